// Package discord wires Charlie into a Discord guild. The [Bot] owns the
// gateway session and slash command routing; [Voice] joins one voice channel,
// demuxes inbound Opus by SSRC into per-speaker transcription pipelines, and
// feeds debounced utterances to the responder. [Player] carries synthesized
// replies back out as Opus.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/floomby/charlie/internal/convo"
	"github.com/floomby/charlie/internal/dispatch"
	"github.com/floomby/charlie/internal/observe"
	"github.com/floomby/charlie/internal/quiescence"
	"github.com/floomby/charlie/internal/respond"
	"github.com/floomby/charlie/pkg/audio"
	"github.com/floomby/charlie/pkg/provider/stt"
)

// recognizerFormat is the PCM format handed to the speech recognizer.
var recognizerFormat = audio.Format{SampleRate: 16000, Channels: 1}

// DefaultDebounceWindow is how long a speaker must stay silent before their
// accumulated fragments flush as one utterance.
const DefaultDebounceWindow = 4 * time.Second

// Responder turns a flushed utterance into a spoken reply.
type Responder interface {
	Respond(ctx context.Context, req respond.Request) *dispatch.Dispatcher
}

// Voice is an active presence in one voice channel. It listens to every
// member, transcribes each speaker independently, and routes utterances that
// name the agent to the responder. Everything else lands in the latent log.
//
// Voice is safe for concurrent use.
type Voice struct {
	session   *discordgo.Session
	guildID   string
	channelID string
	agentName string

	sttProvider stt.Provider
	responder   Responder
	latent      *convo.Log
	registry    *quiescence.Registry[string]
	dedupe      *deduper

	window  time.Duration
	logger  *slog.Logger
	metrics *observe.Metrics

	mu        sync.Mutex
	ctx       context.Context
	vc        *discordgo.VoiceConnection
	ssrcUsers map[uint32]string
	pipelines map[uint32]*pipeline

	removeVSU func()
	done      chan struct{}
	closeOnce sync.Once
}

// VoiceOption configures a [Voice] during construction.
type VoiceOption func(*Voice)

// WithDebounceWindow overrides the silence window that closes an utterance.
func WithDebounceWindow(d time.Duration) VoiceOption {
	return func(v *Voice) {
		if d > 0 {
			v.window = d
		}
	}
}

// WithDedupeWindow overrides the duplicate-transcript suppression window.
func WithDedupeWindow(d time.Duration) VoiceOption {
	return func(v *Voice) {
		v.dedupe = newDeduper(d)
	}
}

// WithVoiceLogger sets the logger. Defaults to slog.Default.
func WithVoiceLogger(l *slog.Logger) VoiceOption {
	return func(v *Voice) {
		v.logger = l
	}
}

// WithVoiceMetrics attaches pipeline instrumentation.
func WithVoiceMetrics(m *observe.Metrics) VoiceOption {
	return func(v *Voice) {
		v.metrics = m
	}
}

// NewVoice creates a Voice for the given channel. Nothing connects until
// [Voice.Run]. responder may be nil and supplied later with
// [Voice.SetResponder] when construction order demands it.
func NewVoice(session *discordgo.Session, guildID, channelID, agentName string,
	sttProvider stt.Provider, responder Responder, latent *convo.Log, opts ...VoiceOption) *Voice {

	v := &Voice{
		session:     session,
		guildID:     guildID,
		channelID:   channelID,
		agentName:   agentName,
		sttProvider: sttProvider,
		responder:   responder,
		latent:      latent,
		dedupe:      newDeduper(defaultDedupeWindow),
		window:      DefaultDebounceWindow,
		logger:      slog.Default(),
		ctx:         context.Background(),
		ssrcUsers:   make(map[uint32]string),
		pipelines:   make(map[uint32]*pipeline),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(v)
	}

	hot := quiescence.WakeWord(agentName)
	v.registry = quiescence.NewRegistry(func(speaker string) *quiescence.Monitor[string] {
		return quiescence.NewMonitor(v.window, func(vals []string, isHot bool) {
			v.flush(speaker, vals, isHot)
		}, hot)
	})
	return v
}

// SetResponder installs the responder. The playback path depends on the
// voice connection, so the responder is often built after the Voice.
func (v *Voice) SetResponder(r Responder) {
	v.mu.Lock()
	v.responder = r
	v.mu.Unlock()
}

// Run joins the voice channel and processes inbound audio until ctx is
// cancelled or the connection drops.
func (v *Voice) Run(ctx context.Context) error {
	vc, err := v.session.ChannelVoiceJoin(v.guildID, v.channelID, false, false)
	if err != nil {
		return fmt.Errorf("discord: join voice channel %q: %w", v.channelID, err)
	}

	v.mu.Lock()
	v.ctx = ctx
	v.vc = vc
	v.mu.Unlock()

	vc.AddHandler(v.handleSpeakingUpdate)
	v.removeVSU = v.session.AddHandler(v.handleVoiceStateUpdate)

	v.logger.Info("joined voice channel", "guild", v.guildID, "channel", v.channelID)

	err = v.recvLoop(ctx, vc)
	v.Close()
	return err
}

// recvLoop demuxes inbound Opus packets by SSRC, decodes them, and feeds the
// per-speaker transcription pipelines.
func (v *Voice) recvLoop(ctx context.Context, vc *discordgo.VoiceConnection) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.done:
			return nil
		case pkt, ok := <-vc.OpusRecv:
			if !ok {
				return errors.New("discord: voice connection closed")
			}
			if pkt == nil {
				continue
			}

			p, err := v.pipelineFor(ctx, pkt.SSRC)
			if err != nil {
				v.logger.Error("start transcription pipeline", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			pcm, err := p.dec.decode(pkt.Opus)
			if err != nil {
				v.logger.Warn("opus decode", "ssrc", pkt.SSRC, "error", err)
				continue
			}
			mono := audio.Convert(pcm, VoiceFormat, recognizerFormat)
			if err := p.sess.SendAudio(mono); err != nil {
				v.logger.Warn("send audio to recognizer", "ssrc", pkt.SSRC, "error", err)
			}
		}
	}
}

// pipeline is the per-SSRC decode-and-transcribe chain.
type pipeline struct {
	ssrc uint32
	dec  *opusDecoder
	sess stt.SessionHandle
}

// pipelineFor returns the pipeline for ssrc, creating it on first packet.
func (v *Voice) pipelineFor(ctx context.Context, ssrc uint32) (*pipeline, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if p, ok := v.pipelines[ssrc]; ok {
		return p, nil
	}

	dec, err := newOpusDecoder()
	if err != nil {
		return nil, err
	}
	sess, err := v.sttProvider.StartStream(ctx, stt.StreamConfig{
		SampleRate: recognizerFormat.SampleRate,
		Channels:   recognizerFormat.Channels,
		Language:   "en",
	})
	if err != nil {
		return nil, fmt.Errorf("discord: start transcription stream: %w", err)
	}

	p := &pipeline{ssrc: ssrc, dec: dec, sess: sess}
	v.pipelines[ssrc] = p
	go v.consumeTranscripts(p)
	return p, nil
}

// consumeTranscripts forwards a pipeline's final transcripts into the
// segmenter. Partials are only logged.
func (v *Voice) consumeTranscripts(p *pipeline) {
	partials := p.sess.Partials()
	finals := p.sess.Finals()
	for partials != nil || finals != nil {
		select {
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			v.logger.Debug("partial transcript", "ssrc", p.ssrc, "text", tr.Text)
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			v.onTranscript(p.ssrc, tr.Text)
		}
	}
}

// onTranscript routes one final transcript into the speaker's monitor.
func (v *Voice) onTranscript(ssrc uint32, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if v.dedupe.Seen(text) {
		v.logger.Debug("duplicate transcript suppressed", "ssrc", ssrc, "text", text)
		return
	}

	speaker := v.speakerName(ssrc)
	v.logger.Info("transcript", "speaker", speaker, "text", text)
	v.registry.Monitor(speaker).Activity(text)
}

// flush handles one debounced utterance batch. Hot batches go to the
// responder; ambient chatter lands in the latent log.
func (v *Voice) flush(speaker string, vals []string, hot bool) {
	text := strings.Join(vals, " ")

	v.mu.Lock()
	ctx := v.ctx
	responder := v.responder
	v.mu.Unlock()

	if v.metrics != nil {
		class := "latent"
		if hot {
			class = "hot"
		}
		v.metrics.UtterancesFlushed.Add(ctx, 1,
			metric.WithAttributes(attribute.String("class", class)))
	}

	if !hot {
		v.latent.Append(convo.Entry{Speaker: speaker, Text: text})
		return
	}

	if responder == nil {
		v.logger.Warn("no responder installed, dropping utterance", "speaker", speaker)
		return
	}

	v.logger.Info("responding", "speaker", speaker, "text", text)
	responder.Respond(ctx, respond.Request{
		Speaker:        speaker,
		Text:           text,
		UsersInChannel: v.Roster(),
	})
}

// Roster returns the display names of everyone currently in the voice
// channel. The agent's own account appears under its agent name.
func (v *Voice) Roster() []string {
	guild, err := v.session.State.Guild(v.guildID)
	if err != nil {
		return nil
	}
	var names []string
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != v.channelID {
			continue
		}
		names = append(names, v.displayName(vs.UserID))
	}
	return names
}

// speakerName resolves an SSRC to a display name. SSRC-to-user mappings
// arrive via speaking updates; packets seen before the mapping fall back to
// a synthetic name.
func (v *Voice) speakerName(ssrc uint32) string {
	v.mu.Lock()
	userID := v.ssrcUsers[ssrc]
	v.mu.Unlock()

	if userID == "" {
		return fmt.Sprintf("speaker-%d", ssrc)
	}
	return v.displayName(userID)
}

func (v *Voice) displayName(userID string) string {
	if self := v.session.State.User; self != nil && self.ID == userID {
		return v.agentName
	}
	member, err := v.session.State.Member(v.guildID, userID)
	if err != nil || member == nil || member.User == nil {
		return userID
	}
	if member.Nick != "" {
		return member.Nick
	}
	return member.User.Username
}

// handleSpeakingUpdate records the SSRC-to-user mapping Discord announces
// when a member starts transmitting.
func (v *Voice) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	v.mu.Lock()
	v.ssrcUsers[uint32(vs.SSRC)] = vs.UserID
	v.mu.Unlock()
}

// handleVoiceStateUpdate tracks members leaving the channel so their
// monitors flush and are dropped.
func (v *Voice) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.GuildID != v.guildID {
		return
	}

	left := vsu.BeforeUpdate != nil &&
		vsu.BeforeUpdate.ChannelID == v.channelID &&
		vsu.ChannelID != v.channelID
	if !left {
		return
	}

	name := v.displayName(vsu.UserID)
	v.logger.Info("member left voice channel", "speaker", name)
	v.registry.Remove(name)
}

// Connected reports whether the voice connection is up.
func (v *Voice) Connected() bool {
	vc := v.connection()
	if vc == nil {
		return false
	}
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

// connection returns the live voice connection, or nil before Run.
func (v *Voice) connection() *discordgo.VoiceConnection {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vc
}

// Close tears down the voice connection and every transcription pipeline.
// Safe to call more than once.
func (v *Voice) Close() {
	v.closeOnce.Do(func() {
		close(v.done)
		if v.removeVSU != nil {
			v.removeVSU()
		}

		v.mu.Lock()
		vc := v.vc
		pipes := v.pipelines
		v.pipelines = make(map[uint32]*pipeline)
		v.mu.Unlock()

		for _, p := range pipes {
			if err := p.sess.Close(); err != nil {
				v.logger.Warn("close transcription stream", "ssrc", p.ssrc, "error", err)
			}
		}
		if vc != nil {
			if err := vc.Disconnect(); err != nil {
				v.logger.Warn("voice disconnect", "error", err)
			}
		}
	})
}
