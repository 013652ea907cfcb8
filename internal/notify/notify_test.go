package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "studycal/internal/errors"
	appLog "studycal/internal/log"
)

func TestMain(m *testing.M) {
	appLog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestMulti_TriesAllAndJoinsErrors(t *testing.T) {
	var calls int
	ok := Func(func(context.Context, Notice) error { calls++; return nil })
	bad := Func(func(context.Context, Notice) error { calls++; return errors.New("offline") })

	err := Multi{bad, ok, Log{}, bad}.Deliver(context.Background(), Notice{Title: "x", Hint: time.Second})
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrDeliveryFailure))
	require.Contains(t, err.Error(), "offline")
	require.Equal(t, 3, calls)

	require.NoError(t, Multi{ok, Log{}}.Deliver(context.Background(), Notice{}))
}

func testSubscription(t *testing.T, endpoint string) Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	return Subscription{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestWebPush_Deliver(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	pub, priv, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	require.NotEmpty(t, pub)
	require.NotEmpty(t, priv)

	wp := NewWebPush(WebPushConfig{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subscriptions:   []Subscription{testSubscription(t, srv.URL+"/ok")},
	}, srv.Client())

	require.NoError(t, wp.Deliver(context.Background(), Notice{Title: "Upcoming: Lecture", Body: "In 10 minutes"}))
	require.Equal(t, int32(1), hits.Load())

	wp = NewWebPush(WebPushConfig{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subscriptions: []Subscription{
			testSubscription(t, srv.URL+"/gone"),
			testSubscription(t, srv.URL+"/ok"),
		},
	}, srv.Client())

	err = wp.Deliver(context.Background(), Notice{Title: "t"})
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, int32(3), hits.Load())
}

func TestWebPush_NoSubscriptions(t *testing.T) {
	wp := NewWebPush(WebPushConfig{}, nil)
	require.NoError(t, wp.Deliver(context.Background(), Notice{Title: "t"}))
}
