package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedBody = "N° do imóvel;UF;Cidade\n1;SP;São Paulo\n"

func newTestClient(opts Options) *Client {
	c := NewClient(opts)
	c.sleep = func(context.Context, time.Duration) {}
	return c
}

func TestFetchFeed_HTTPS(t *testing.T) {
	var rootHits, feedHits atomic.Int32

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/":
			rootHits.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		case strings.HasPrefix(r.URL.Path, "/listaweb/"):
			feedHits.Add(1)
			assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
			fmt.Fprint(w, feedBody)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(Options{
		FeedURLTemplate: srv.URL + "/listaweb/Lista_imoveis_%s.csv",
		RootURL:         srv.URL + "/",
	})

	text, err := c.FetchFeed(context.Background(), "SP")
	require.NoError(t, err)
	assert.Contains(t, text, "São Paulo")
	assert.Equal(t, int32(1), rootHits.Load())

	// Warm-up happens once per session, not once per fetch.
	_, err = c.FetchFeed(context.Background(), "SP")
	require.NoError(t, err)
	assert.Equal(t, int32(1), rootHits.Load())
	assert.Equal(t, int32(2), feedHits.Load())
}

func TestFetchFeed_DowngradesToHTTP(t *testing.T) {
	// A plain-HTTP server: the https attempt fails the TLS handshake
	// against it, and the downgrade retry on the same host succeeds.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedBody)
	}))
	defer srv.Close()

	httpsURL := strings.Replace(srv.URL, "http://", "https://", 1)
	c := newTestClient(Options{
		FeedURLTemplate: httpsURL + "/listaweb/Lista_imoveis_%s.csv",
	})

	text, err := c.FetchFeed(context.Background(), "RJ")
	require.NoError(t, err)
	assert.Contains(t, text, "imóvel")
}

func TestFetchFeed_BothAttemptsFail(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(Options{
		FeedURLTemplate: srv.URL + "/listaweb/Lista_imoveis_%s.csv",
	})

	_, err := c.FetchFeed(context.Background(), "AC")
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}

func TestFetchFeed_UndecodableBody(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "conteudo sem cabecalho nenhum")
	}))
	defer srv.Close()

	c := newTestClient(Options{
		FeedURLTemplate: srv.URL + "/x_%s.csv",
	})

	_, err := c.FetchFeed(context.Background(), "SP")
	assert.Error(t, err)
}

func TestPolitenessDelay_Bounds(t *testing.T) {
	var slept time.Duration
	c := NewClient(Options{MinDelay: time.Second, MaxDelay: 3 * time.Second})
	c.sleep = func(_ context.Context, d time.Duration) { slept = d }

	for range 50 {
		c.politenessDelay(context.Background())
		assert.GreaterOrEqual(t, slept, time.Second)
		assert.Less(t, slept, 3*time.Second)
	}
}
