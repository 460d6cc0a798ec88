package market

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"go.uber.org/zap"
)

// StreamHandler is a callback function for price updates.
type StreamHandler func(ticker string, price float64)

// StreamProvider defines the interface for real-time market data.
type StreamProvider interface {
	Subscribe(ctx context.Context, tickers []string, handler StreamHandler) error
	Close() error
}

// AlpacaStreamer implements StreamProvider using Alpaca's WebSocket API.
// It feeds the position monitor's LivePrices.
type AlpacaStreamer struct {
	client    *stream.StocksClient
	handler   StreamHandler
	logger    *zap.Logger
	mu        sync.Mutex
	reconnect bool
}

// NewAlpacaStreamer creates a new streamer on the IEX feed.
func NewAlpacaStreamer(logger *zap.Logger) *AlpacaStreamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyID := os.Getenv("APCA_API_KEY_ID")
	secretKey := os.Getenv("APCA_API_SECRET_KEY")

	return &AlpacaStreamer{
		client: stream.NewStocksClient(
			marketdata.IEX,
			stream.WithCredentials(keyID, secretKey),
			stream.WithReconnectSettings(10, 500*time.Millisecond),
		),
		logger:    logger,
		reconnect: true,
	}
}

// Subscribe connects to the stream and listens for trades for the given tickers.
// The connection lives until ctx is cancelled.
func (s *AlpacaStreamer) Subscribe(ctx context.Context, tickers []string, handler StreamHandler) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()

	// Connect blocks until the connection is closed.
	go func() {
		s.logger.Info("connecting to alpaca stream", zap.Strings("tickers", tickers))
		if err := s.client.Connect(ctx); err != nil {
			s.logger.Warn("stream connection closed", zap.Error(err))
			if s.shouldReconnect() && ctx.Err() == nil {
				s.manualReconnectLoop(ctx, tickers)
			}
			return
		}
		if err := s.client.SubscribeToTrades(s.onTrade, tickers...); err != nil {
			s.logger.Error("stream subscribe failed", zap.Error(err))
			return
		}
		<-s.client.Terminated()
		s.logger.Info("stream terminated")
	}()

	return nil
}

func (s *AlpacaStreamer) onTrade(t stream.Trade) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(t.Symbol, t.Price)
	}
}

func (s *AlpacaStreamer) shouldReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnect
}

// Close stops the manual reconnection loop; the SDK connection ends with its context.
func (s *AlpacaStreamer) Close() error {
	s.mu.Lock()
	s.reconnect = false
	s.mu.Unlock()
	return nil
}

func (s *AlpacaStreamer) manualReconnectLoop(ctx context.Context, tickers []string) {
	backoff := 1 * time.Second
	maxBackoff := 60 * time.Second

	for s.shouldReconnect() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		s.logger.Info("reconnecting stream", zap.Duration("backoff", backoff))
		if err := s.client.Connect(ctx); err != nil {
			s.logger.Warn("stream reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		if err := s.client.SubscribeToTrades(s.onTrade, tickers...); err != nil {
			s.logger.Error("stream resubscribe failed", zap.Error(err))
		}
		<-s.client.Terminated()
		backoff = 1 * time.Second
	}
}
