package channels

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type browserKeys struct {
	private *ecdh.PrivateKey
	auth    []byte
}

func newBrowserKeys(t *testing.T) browserKeys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return browserKeys{private: priv, auth: auth}
}

func (b browserKeys) subscription(endpoint string) string {
	raw, _ := json.Marshal(map[string]any{
		"endpoint": endpoint,
		"keys": map[string]string{
			"p256dh": base64.RawURLEncoding.EncodeToString(b.private.PublicKey().Bytes()),
			"auth":   base64.RawURLEncoding.EncodeToString(b.auth),
		},
	})
	return string(raw)
}

// decrypt reverses encryptPushPayload the way a browser would
func (b browserKeys) decrypt(t *testing.T, body []byte) []byte {
	t.Helper()
	require.Greater(t, len(body), 21)
	salt := body[:16]
	rs := binary.BigEndian.Uint32(body[16:20])
	assert.Equal(t, uint32(recordSize), rs)
	idLen := int(body[20])
	asPublicBytes := body[21 : 21+idLen]
	ciphertext := body[21+idLen:]

	asPublic, err := ecdh.P256().NewPublicKey(asPublicBytes)
	require.NoError(t, err)
	shared, err := b.private.ECDH(asPublic)
	require.NoError(t, err)

	cek, nonce, err := deriveContentKeys(shared, b.auth, salt, b.private.PublicKey().Bytes(), asPublicBytes)
	require.NoError(t, err)

	block, err := aes.NewCipher(cek)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	require.NoError(t, err)

	require.Equal(t, byte(0x02), plain[len(plain)-1])
	return plain[:len(plain)-1]
}

func newVAPIDKeyPEM(t *testing.T) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), key
}

func TestWebPush_SendEncryptsAndAuthorizes(t *testing.T) {
	browser := newBrowserKeys(t)
	pemKey, vapidKey := newVAPIDKeyPEM(t)

	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Location", "/m/abc")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	push, err := NewWebPush(pemKey, "mailto:ops@example.com", WithPushHTTPClient(srv.Client()), WithInsecureEndpoints())
	require.NoError(t, err)
	assert.True(t, push.HealthCheck(context.Background()))

	payload := testPayload()
	res := push.Send(context.Background(), payload, Config{PushSubscription: browser.subscription(srv.URL + "/push/xyz")})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "/m/abc", res.MessageID)

	assert.Equal(t, "aes128gcm", gotHeaders.Get("Content-Encoding"))
	assert.NotEmpty(t, gotHeaders.Get("TTL"))

	var message map[string]any
	require.NoError(t, json.Unmarshal(browser.decrypt(t, gotBody), &message))
	assert.Equal(t, payload.Title, message["title"])
	assert.Equal(t, payload.JobID.String(), message["tag"])

	auth := gotHeaders.Get("Authorization")
	require.True(t, strings.HasPrefix(auth, "vapid t="))
	parts := strings.SplitN(strings.TrimPrefix(auth, "vapid t="), ", k=", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, push.PublicKey(), parts[1])

	token, err := jwt.Parse(parts[0], func(*jwt.Token) (any, error) { return &vapidKey.PublicKey, nil },
		jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, srv.URL, claims["aud"])
	assert.Equal(t, "mailto:ops@example.com", claims["sub"])
}

func TestWebPush_ExpiredSubscription(t *testing.T) {
	browser := newBrowserKeys(t)
	pemKey, _ := newVAPIDKeyPEM(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	push, err := NewWebPush(pemKey, "mailto:ops@example.com", WithPushHTTPClient(srv.Client()), WithInsecureEndpoints())
	require.NoError(t, err)

	res := push.Send(context.Background(), testPayload(), Config{PushSubscription: browser.subscription(srv.URL)})
	assert.False(t, res.Success)
	assert.Equal(t, "subscription expired", res.Error)
}

func TestWebPush_RejectsBadConfig(t *testing.T) {
	browser := newBrowserKeys(t)
	pemKey, _ := newVAPIDKeyPEM(t)
	push, err := NewWebPush(pemKey, "mailto:ops@example.com")
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "no push subscription configured", push.Send(ctx, testPayload(), Config{}).Error)
	assert.Contains(t, push.Send(ctx, testPayload(), Config{PushSubscription: "{}"}).Error, "missing endpoint")
	assert.Equal(t, "push endpoint must use https",
		push.Send(ctx, testPayload(), Config{PushSubscription: browser.subscription("http://internal.local/push")}).Error)

	unconfigured, err := NewWebPush("", "")
	require.NoError(t, err)
	assert.False(t, unconfigured.HealthCheck(ctx))
	assert.Equal(t, "web push is not configured", unconfigured.Send(ctx, testPayload(), Config{PushSubscription: "x"}).Error)

	_, err = NewWebPush("not a pem", "mailto:x")
	assert.Error(t, err)
}

func TestGenerateVAPIDKey(t *testing.T) {
	keyPEM, err := GenerateVAPIDKey()
	require.NoError(t, err)
	assert.Contains(t, keyPEM, "BEGIN EC PRIVATE KEY")

	w, err := NewWebPush(keyPEM, "mailto:ops@example.com")
	require.NoError(t, err)
	assert.True(t, w.HealthCheck(context.Background()))

	pub, err := base64.RawURLEncoding.DecodeString(w.PublicKey())
	require.NoError(t, err)
	assert.Len(t, pub, 65)
	assert.Equal(t, byte(0x04), pub[0])
}
