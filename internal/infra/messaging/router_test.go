package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
)

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, p domain.Provider, req domain.WorkRequest) error {
	return m.Called(ctx, p, req).Error(0)
}

func TestRouter_RoutesByTransport(t *testing.T) {
	kafka, webhook := new(mockSender), new(mockSender)
	r := NewRouter().
		Register(domain.TransportKafka, kafka).
		Register(domain.TransportWebhook, webhook)

	p := domain.Provider{ID: "alpha", Transport: domain.TransportWebhook}
	webhook.On("Send", mock.Anything, p, mock.Anything).Return(nil).Once()

	require.NoError(t, r.Send(context.Background(), p, domain.WorkRequest{}))
	webhook.AssertExpectations(t)
	kafka.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_UnknownTransport(t *testing.T) {
	err := NewRouter().Send(context.Background(), domain.Provider{ID: "x", Transport: "carrier-pigeon"}, domain.WorkRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}
