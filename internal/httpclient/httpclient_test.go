package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transportOf(t *testing.T, c *http.Client) *http.Transport {
	t.Helper()
	transport, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	return transport
}

func TestNew_Proxy(t *testing.T) {
	c := New("http://proxy.local:3128", 5*time.Second)
	assert.Equal(t, 5*time.Second, c.Timeout)

	transport := transportOf(t, c)
	require.NotNil(t, transport.Proxy)
	req, err := http.NewRequest(http.MethodGet, "https://horizon.stellar.org/accounts", nil)
	require.NoError(t, err)
	u, err := transport.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "proxy.local:3128", u.Host)
}

func TestNew_NoProxy(t *testing.T) {
	assert.Nil(t, transportOf(t, New("", time.Second)).Proxy)
	assert.Nil(t, transportOf(t, New("::not a url", time.Second)).Proxy)
}
