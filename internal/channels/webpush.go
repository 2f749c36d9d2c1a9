package channels

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/jonathan/bidpilot/internal/types"
)

const (
	// recordSize is the aes128gcm record size advertised in the header
	recordSize = 4096
	pushTTL    = 24 * time.Hour
	vapidTTL   = 12 * time.Hour
)

// PushSubscription is the browser PushSubscription.toJSON() shape
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256DH string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// ParsePushSubscription decodes and checks a stored subscription
func ParsePushSubscription(raw string) (*PushSubscription, error) {
	var sub PushSubscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, errors.Wrap(err, "invalid push subscription")
	}
	if sub.Endpoint == "" || sub.Keys.P256DH == "" || sub.Keys.Auth == "" {
		return nil, errors.New("push subscription missing endpoint or keys")
	}
	return &sub, nil
}

// WebPush delivers desktop notifications through the Web Push protocol.
// Payloads are encrypted with aes128gcm (RFC 8291) and requests are
// authorized with a VAPID ES256 token (RFC 8292).
type WebPush struct {
	vapidKey      *ecdsa.PrivateKey
	vapidPublic   string
	subject       string
	client        *http.Client
	allowInsecure bool
}

// WebPushOption configures a WebPush provider
type WebPushOption func(*WebPush)

// WithPushHTTPClient overrides the HTTP client
func WithPushHTTPClient(c *http.Client) WebPushOption {
	return func(w *WebPush) { w.client = c }
}

// WithInsecureEndpoints permits plain-http push endpoints (tests only)
func WithInsecureEndpoints() WebPushOption {
	return func(w *WebPush) { w.allowInsecure = true }
}

// NewWebPush creates the provider from a PEM-encoded P-256 VAPID private key.
// An empty PEM yields a provider whose sends fail and whose health check is false.
func NewWebPush(vapidPrivateKeyPEM, subject string, opts ...WebPushOption) (*WebPush, error) {
	w := &WebPush{subject: subject}
	for _, opt := range opts {
		opt(w)
	}
	w.client = defaultClient(w.client)

	if strings.TrimSpace(vapidPrivateKeyPEM) == "" {
		return w, nil
	}

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(vapidPrivateKeyPEM))
	if err != nil {
		return nil, errors.Wrap(err, "invalid VAPID private key")
	}
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return nil, errors.Wrap(err, "VAPID key must be P-256")
	}
	w.vapidKey = key
	w.vapidPublic = base64.RawURLEncoding.EncodeToString(pub.Bytes())
	return w, nil
}

// GenerateVAPIDKey returns a new PEM-encoded P-256 private key suitable
// for NewWebPush
func GenerateVAPIDKey() (string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate VAPID key")
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode VAPID key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// PublicKey returns the base64url VAPID application server key that browsers
// need when subscribing
func (w *WebPush) PublicKey() string {
	return w.vapidPublic
}

// Channel implements Provider
func (w *WebPush) Channel() types.Channel {
	return types.ChannelDesktop
}

// HealthCheck implements Provider
func (w *WebPush) HealthCheck(context.Context) bool {
	return w.vapidKey != nil && w.subject != ""
}

// Send implements Provider
func (w *WebPush) Send(ctx context.Context, payload Payload, cfg Config) Result {
	ch := types.ChannelDesktop
	if w.vapidKey == nil {
		return Failed(ch, "web push is not configured")
	}
	if cfg.PushSubscription == "" {
		return Failed(ch, "no push subscription configured")
	}

	sub, err := ParsePushSubscription(cfg.PushSubscription)
	if err != nil {
		return Failed(ch, "%v", err)
	}
	endpoint, err := url.Parse(sub.Endpoint)
	if err != nil || endpoint.Host == "" {
		return Failed(ch, "invalid push endpoint")
	}
	if endpoint.Scheme != "https" && !(w.allowInsecure && endpoint.Scheme == "http") {
		return Failed(ch, "push endpoint must use https")
	}

	message, err := json.Marshal(map[string]any{
		"title":     payload.Title,
		"body":      payload.Body,
		"url":       payload.URL,
		"tag":       payload.JobID.String(),
		"fit_score": payload.FitScore,
	})
	if err != nil {
		return Failed(ch, "failed to encode payload: %v", err)
	}

	body, err := encryptPushPayload(message, sub.Keys.P256DH, sub.Keys.Auth)
	if err != nil {
		return Failed(ch, "failed to encrypt payload: %v", err)
	}

	token, err := w.vapidToken(endpoint)
	if err != nil {
		return Failed(ch, "failed to sign VAPID token: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Failed(ch, "failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("TTL", strconv.Itoa(int(pushTTL.Seconds())))
	req.Header.Set("Urgency", "normal")
	req.Header.Set("Authorization", "vapid t="+token+", k="+w.vapidPublic)

	resp, err := w.client.Do(req)
	if err != nil {
		return Failed(ch, "push request failed: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Failed(ch, "subscription expired")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Failed(ch, "push service returned HTTP %d", resp.StatusCode)
	}

	messageID := resp.Header.Get("Location")
	return Result{Success: true, Channel: ch, MessageID: messageID}
}

// vapidToken signs the RFC 8292 JWT; the audience is the endpoint's origin
func (w *WebPush) vapidToken(endpoint *url.URL) (string, error) {
	claims := jwt.MapClaims{
		"aud": endpoint.Scheme + "://" + endpoint.Host,
		"exp": time.Now().Add(vapidTTL).Unix(),
		"sub": w.subject,
	}
	return jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(w.vapidKey)
}

// encryptPushPayload produces a single-record aes128gcm body:
// salt(16) | rs(4) | idlen(1) | server public key(65) | ciphertext
func encryptPushPayload(plaintext []byte, p256dh, authSecret string) ([]byte, error) {
	uaPublicBytes, err := decodeBase64URL(p256dh)
	if err != nil {
		return nil, errors.Wrap(err, "p256dh")
	}
	auth, err := decodeBase64URL(authSecret)
	if err != nil {
		return nil, errors.Wrap(err, "auth")
	}

	curve := ecdh.P256()
	uaPublic, err := curve.NewPublicKey(uaPublicBytes)
	if err != nil {
		return nil, errors.Wrap(err, "p256dh is not a P-256 point")
	}
	asPrivate, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	asPublic := asPrivate.PublicKey().Bytes()

	shared, err := asPrivate.ECDH(uaPublic)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	cek, nonce, err := deriveContentKeys(shared, auth, salt, uaPublicBytes, asPublic)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	// 0x02 marks the last (and only) record
	record := append(append([]byte{}, plaintext...), 0x02)
	if len(record)+gcm.Overhead() > recordSize {
		return nil, errors.Newf("payload of %d bytes exceeds one record", len(plaintext))
	}
	ciphertext := gcm.Seal(nil, nonce, record, nil)

	header := make([]byte, 0, 16+4+1+len(asPublic))
	header = append(header, salt...)
	header = binary.BigEndian.AppendUint32(header, recordSize)
	header = append(header, byte(len(asPublic)))
	header = append(header, asPublic...)

	return append(header, ciphertext...), nil
}

// deriveContentKeys implements the RFC 8291 key schedule
func deriveContentKeys(shared, auth, salt, uaPublic, asPublic []byte) (cek, nonce []byte, err error) {
	keyInfo := make([]byte, 0, 14+len(uaPublic)+len(asPublic))
	keyInfo = append(keyInfo, "WebPush: info\x00"...)
	keyInfo = append(keyInfo, uaPublic...)
	keyInfo = append(keyInfo, asPublic...)

	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, auth, keyInfo), ikm); err != nil {
		return nil, nil, err
	}

	cek = make([]byte, 16)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: aes128gcm\x00")), cek); err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, 12)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: nonce\x00")), nonce); err != nil {
		return nil, nil, err
	}
	return cek, nonce, nil
}

// decodeBase64URL accepts padded and unpadded base64url, which browsers mix
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
