package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchbook/internal/apperr"
	"pitchbook/internal/model"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestDecodeUserID(t *testing.T) {
	tests := []struct {
		name    string
		claims  jwt.MapClaims
		want    int64
		wantErr bool
	}{
		{"userId claim", jwt.MapClaims{"userId": float64(42)}, 42, false},
		{"sub numeric string", jwt.MapClaims{"sub": "17"}, 17, false},
		{"id claim", jwt.MapClaims{"id": float64(9)}, 9, false},
		{"userId wins over sub", jwt.MapClaims{"userId": float64(5), "sub": "99"}, 5, false},
		{"no id claim", jwt.MapClaims{"email": "a@b.c"}, 0, true},
		{"non-numeric sub", jwt.MapClaims{"sub": "alice"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeUserID(signedToken(t, tt.claims))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeUserID_Malformed(t *testing.T) {
	_, err := DecodeUserID("")
	assert.Error(t, err)

	_, err = DecodeUserID("not-a-jwt")
	assert.Error(t, err)
}

func TestResolveUserID_SessionValueWins(t *testing.T) {
	s := NewSession(signedToken(t, jwt.MapClaims{"userId": float64(7)}))
	s.SetUserID(3)

	id, err := s.ResolveUserID(context.Background(), func(ctx context.Context) (*model.User, error) {
		t.Fatal("current-user endpoint must not be called")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestResolveUserID_FromClaims(t *testing.T) {
	s := NewSession(signedToken(t, jwt.MapClaims{"userId": float64(7)}))

	id, err := s.ResolveUserID(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	// Resolved id is cached on the session.
	cached, ok := s.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), cached)
}

func TestResolveUserID_FallsBackToEndpoint(t *testing.T) {
	s := NewSession("opaque-token-without-claims")

	id, err := s.ResolveUserID(context.Background(), func(ctx context.Context) (*model.User, error) {
		return &model.User{ID: 11, Email: "u@example.com"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
}

func TestResolveUserID_AllSourcesFail(t *testing.T) {
	s := NewSession("opaque-token-without-claims")

	_, err := s.ResolveUserID(context.Background(), func(ctx context.Context) (*model.User, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot determine user identity")
}

func TestResolveUserID_PreservesEndpointErrorType(t *testing.T) {
	s := NewSession("opaque-token-without-claims")

	_, err := s.ResolveUserID(context.Background(), func(ctx context.Context) (*model.User, error) {
		return nil, &apperr.AuthExpiredError{ServerMessage: "token expired"}
	})
	require.Error(t, err)
	assert.True(t, apperr.IsAuthExpired(err), "the cause must stay branchable")
}

func TestResolveUserID_NoTokenIsAuthExpired(t *testing.T) {
	s := NewSession("")

	_, err := s.ResolveUserID(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperr.IsAuthExpired(err))
}

func TestNotifyUnauthorized(t *testing.T) {
	s := NewSession("tok")
	s.SetUserID(4)

	fired := 0
	s.OnUnauthorized(func() { fired++ })
	s.NotifyUnauthorized()

	assert.Equal(t, 1, fired)
	assert.False(t, s.Authenticated())
	_, ok := s.UserID()
	assert.False(t, ok)
}
