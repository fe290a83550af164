package chatroom

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestUserIDFromToken(t *testing.T) {
	tests := []struct {
		name    string
		claims  jwt.MapClaims
		want    ID
		wantErr bool
	}{
		{name: "numeric claim", claims: jwt.MapClaims{"user_id": 42}, want: "42"},
		{name: "string claim", claims: jwt.MapClaims{"user_id": "abc"}, want: "abc"},
		{name: "missing claim", claims: jwt.MapClaims{"sub": "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserIDFromToken(signedToken(t, tt.claims))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("id = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := UserIDFromToken("not-a-jwt"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, err := TokenExpiry(signedToken(t, jwt.MapClaims{"user_id": 1, "exp": exp.Unix()}))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(exp) {
		t.Fatalf("expiry = %v, want %v", got, exp)
	}

	got, err = TokenExpiry(signedToken(t, jwt.MapClaims{"user_id": 1}))
	if err != nil || !got.IsZero() {
		t.Fatalf("no exp: got %v, %v", got, err)
	}
}
