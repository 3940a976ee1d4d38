package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/floomby/charlie/pkg/provider/tts"
)

// Bridge adapts a tts.Provider to the scheduler's synthesis contract. The
// correlation [Key] travels to the daemon and back encoded as the request
// nonce, so completions can be routed without any bridge-side bookkeeping.
type Bridge struct {
	provider tts.Provider
	voice    string
	logger   *slog.Logger
}

// NewBridge wraps provider. voice may be empty for the backend default.
func NewBridge(provider tts.Provider, voice string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{provider: provider, voice: voice, logger: logger}
}

// Submit implements [Synthesizer].
func (b *Bridge) Submit(ctx context.Context, key Key, text string) error {
	return b.provider.Synthesize(ctx, tts.Request{
		Nonce: encodeNonce(key),
		Text:  text,
		Voice: b.voice,
	})
}

// Pump routes provider results into the scheduler until the provider's
// Results channel closes or ctx is cancelled. Error results are dropped;
// the scheduler's stall eviction reclaims the segment that never arrived.
func (b *Bridge) Pump(ctx context.Context, s *Scheduler) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-b.provider.Results():
			if !ok {
				return
			}
			key, err := decodeNonce(res.Nonce)
			if err != nil {
				b.logger.Warn("unroutable synthesis result", "nonce", res.Nonce, "err", err)
				continue
			}
			if res.Err != nil {
				b.logger.Warn("synthesis failed",
					"dispatcher", key.Dispatcher,
					"segment", key.Segment,
					"err", res.Err,
				)
				continue
			}
			s.Deliver(key, res.PCM)
		}
	}
}

func encodeNonce(key Key) string {
	return strconv.FormatUint(key.Dispatcher, 10) + ":" + strconv.Itoa(key.Segment)
}

func decodeNonce(nonce string) (Key, error) {
	d, s, ok := strings.Cut(nonce, ":")
	if !ok {
		return Key{}, fmt.Errorf("dispatch: malformed nonce %q", nonce)
	}
	id, err := strconv.ParseUint(d, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("dispatch: malformed nonce %q: %w", nonce, err)
	}
	seg, err := strconv.Atoi(s)
	if err != nil {
		return Key{}, fmt.Errorf("dispatch: malformed nonce %q: %w", nonce, err)
	}
	return Key{Dispatcher: id, Segment: seg}, nil
}

var _ Synthesizer = (*Bridge)(nil)
