package paramstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	calls  int
	last   *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.last = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func withValue(v string) *fakeAPI {
	return &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(v), Type: types.ParameterTypeSecureString,
	}}}
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestGetParameter_DecryptsAndCaches(t *testing.T) {
	api := withValue(`{"token":"abc"}`)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := New(api, WithCacheTTL(time.Minute))
	require.NoError(t, err)
	c.now = func() time.Time { return now }

	v, err := c.GetParameter(context.Background(), " /todo/jwt ")
	require.NoError(t, err)
	require.Equal(t, `{"token":"abc"}`, v)
	require.Equal(t, "/todo/jwt", *api.last.Name)
	require.True(t, *api.last.WithDecryption)

	_, err = c.GetParameter(context.Background(), "/todo/jwt")
	require.NoError(t, err)
	require.Equal(t, 1, api.calls)

	now = now.Add(time.Minute)
	_, err = c.GetParameter(context.Background(), "/todo/jwt")
	require.NoError(t, err)
	require.Equal(t, 2, api.calls, "expired cache entries are refetched")
}

func TestGetParameter_NoCache(t *testing.T) {
	api := withValue("v")
	c, err := New(api, WithCacheTTL(0))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := c.GetParameter(context.Background(), "p")
		require.NoError(t, err)
	}
	require.Equal(t, 3, api.calls)
}

func TestGetParameter_Errors(t *testing.T) {
	c, err := New(&fakeAPI{getOut: &ssm.GetParameterOutput{}})
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no value")

	c, err = New(&fakeAPI{getErr: errors.New("AccessDenied")})
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "AccessDenied")

	_, err = c.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

type fakeGetter struct {
	val string
	err error
}

func (f fakeGetter) GetParameter(context.Context, string) (string, error) { return f.val, f.err }

func TestToken(t *testing.T) {
	tok, err := Token(context.Background(), fakeGetter{val: `{"token":"sk-1"}`}, "/todo/openai")
	require.NoError(t, err)
	require.Equal(t, "sk-1", tok)

	cases := []struct {
		name   string
		getter Getter
		param  string
		msg    string
	}{
		{"nil getter", nil, "/p", "must not be nil"},
		{"empty name", fakeGetter{}, " ", "empty"},
		{"getter error", fakeGetter{err: errors.New("ssm down")}, "/p", "ssm down"},
		{"malformed", fakeGetter{val: `{"broken`}, "/p", "unmarshal"},
		{"missing token", fakeGetter{val: `{"other":"x"}`}, "/p", "is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Token(context.Background(), tc.getter, tc.param)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.msg)
		})
	}
}
