package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

const (
	spillFileName  = "spillover.jsonl"
	replayFileName = "spillover.replay.jsonl"
)

type (
	spilloverOptions struct {
		dir       string
		maxEvents int
		maxBytes  int64
		queueCap  int
		logger    *slog.Logger
		onWrite   func()
		onDrop    func(event eventlog.EventLogEntry, reason string)
	}

	// spillRequest pairs an event with the trigger that sent it to disk.
	spillRequest struct {
		event  eventlog.EventLogEntry
		reason string
	}

	// spillover persists overflow events as newline-delimited JSON and feeds
	// them back through Replay. Appends go through a buffered channel drained
	// by a dedicated writer goroutine, so engine workers never wait on disk.
	//
	// Two files: the active file receives appends; a frozen replay file is
	// consumed by Replay. Rotation is a single atomic rename under mu, which
	// is the only coordination the concurrent append/replay pair needs. The
	// file surviving a crash is picked up on the next start: counters are
	// recovered from the active file, and a leftover replay file is consumed
	// before the next rotation.
	spillover struct {
		dir       string
		maxEvents int
		maxBytes  int64
		logger    *slog.Logger
		onWrite   func()
		onDrop    func(event eventlog.EventLogEntry, reason string)

		offers chan spillRequest
		stop   chan struct{}
		done   chan struct{}
		closed atomic.Bool

		mu          sync.Mutex
		activeCount int
		activeBytes int64
	}
)

func newSpillover(opts spilloverOptions) (*spillover, error) {
	if err := os.MkdirAll(opts.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spillover directory: %w", err)
	}

	s := &spillover{
		dir:       opts.dir,
		maxEvents: opts.maxEvents,
		maxBytes:  opts.maxBytes,
		logger:    opts.logger,
		onWrite:   opts.onWrite,
		onDrop:    opts.onDrop,
		offers:    make(chan spillRequest, opts.queueCap),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if err := s.recoverCounters(); err != nil {
		return nil, err
	}

	go s.writeLoop()

	return s, nil
}

// Offer hands an event to the writer without blocking. A false return means
// the handoff channel is full or the spillover is closed; the caller owns
// the loss.
func (s *spillover) Offer(event eventlog.EventLogEntry, reason string) bool {
	if s.closed.Load() {
		return false
	}

	select {
	case s.offers <- spillRequest{event: event, reason: reason}:
		return true
	default:
		return false
	}
}

// Close stops the writer after flushing every queued append to disk.
func (s *spillover) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(s.stop)
	<-s.done

	return nil
}

// Replay freezes the spilled backlog when needed and sends it one event at a
// time, bounding memory no matter how large the file grew. It returns the
// number delivered.
//
// Corrupt lines are dropped with a warning. Permanently rejected events are
// consumed and reported as losses. On any other send failure the remaining
// well-formed lines are rewritten for the next pass and the pass ends.
func (s *spillover) Replay(
	ctx context.Context,
	send func(ctx context.Context, event *eventlog.EventLogEntry) error,
) (int, error) {
	if err := s.rotate(); err != nil {
		return 0, err
	}

	file, err := os.Open(s.replayPath())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("open replay file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	reader := bufio.NewReader(file)
	replayed := 0

	for {
		line, readErr := reader.ReadString('\n')

		if trimmed := strings.TrimSpace(line); trimmed != "" {
			var event eventlog.EventLogEntry

			if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
				s.logger.Warn("dropping corrupt spillover line", slog.String("error", err.Error()))
			} else if sendErr := send(ctx, &event); sendErr == nil {
				replayed++
			} else if permanentReject(sendErr) {
				s.logger.Warn("backend rejected replayed event",
					slog.String("correlation_id", event.CorrelationID),
					slog.String("error", sendErr.Error()),
				)
				s.drop(event, ReasonReplayRejected)
			} else {
				if rewriteErr := s.preserveRemainder(trimmed, reader); rewriteErr != nil {
					s.logger.Error("failed to preserve replay remainder",
						slog.String("error", rewriteErr.Error()),
					)
				}

				return replayed, fmt.Errorf("replay send failed: %w", sendErr)
			}
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return replayed, fmt.Errorf("read replay file: %w", readErr)
			}

			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.replayPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return replayed, fmt.Errorf("remove replay file: %w", err)
	}

	if replayed > 0 {
		s.logger.Info("spillover replay complete", slog.Int("replayed", replayed))
	}

	return replayed, nil
}

// writeLoop drains the offer channel until Close, then flushes what is left.
func (s *spillover) writeLoop() {
	defer close(s.done)

	for {
		select {
		case req := <-s.offers:
			s.append(req)
		case <-s.stop:
			for {
				select {
				case req := <-s.offers:
					s.append(req)
				default:
					return
				}
			}
		}
	}
}

// append serializes one event and writes it under the file caps.
func (s *spillover) append(req spillRequest) {
	line, err := json.Marshal(req.event)
	if err != nil {
		s.logger.Error("failed to serialize spilled event", slog.String("error", err.Error()))
		s.drop(req.event, req.reason)

		return
	}

	size := int64(len(line)) + 1

	s.mu.Lock()

	if s.activeCount+1 > s.maxEvents {
		s.mu.Unlock()
		s.drop(req.event, ReasonSpilloverMaxEvents)

		return
	}

	if s.activeBytes+size > s.maxBytes {
		s.mu.Unlock()
		s.drop(req.event, ReasonSpilloverMaxSize)

		return
	}

	if err := s.writeLine(line); err != nil {
		s.mu.Unlock()
		s.logger.Error("spillover append failed", slog.String("error", err.Error()))
		s.drop(req.event, req.reason)

		return
	}

	s.activeCount++
	s.activeBytes += size
	s.mu.Unlock()

	s.logger.Debug("event spilled",
		slog.String("reason", req.reason),
		slog.String("correlation_id", req.event.CorrelationID),
	)

	if s.onWrite != nil {
		s.onWrite()
	}
}

// writeLine appends one line to the active file. The file is reopened per
// append because rotation renames it out from underneath a held handle.
func (s *spillover) writeLine(line []byte) error {
	file, err := os.OpenFile(s.activePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}

	if _, err := file.Write(append(line, '\n')); err != nil {
		_ = file.Close()

		return err
	}

	return file.Close()
}

// rotate freezes the active file for replay. No-op when a replay file is
// already pending or nothing has spilled.
func (s *spillover) rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.replayPath()); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat replay file: %w", err)
	}

	info, err := os.Stat(s.activePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("stat spillover file: %w", err)
	}

	if info.Size() == 0 {
		return nil
	}

	if err := os.Rename(s.activePath(), s.replayPath()); err != nil {
		return fmt.Errorf("rotate spillover file: %w", err)
	}

	s.activeCount = 0
	s.activeBytes = 0

	return nil
}

// preserveRemainder rewrites the replay file with the line that failed to
// send plus everything not yet read, filtering malformed lines, then swaps
// it into place atomically.
func (s *spillover) preserveRemainder(firstLine string, reader *bufio.Reader) error {
	tmp, err := os.CreateTemp(s.dir, "spillover.rewrite.*")
	if err != nil {
		return fmt.Errorf("create rewrite file: %w", err)
	}

	writer := bufio.NewWriter(tmp)

	keep := func(line string) {
		if !json.Valid([]byte(line)) {
			s.logger.Warn("dropping corrupt spillover line")

			return
		}

		_, _ = writer.WriteString(line)
		_ = writer.WriteByte('\n')
	}

	keep(firstLine)

	for {
		line, readErr := reader.ReadString('\n')

		if trimmed := strings.TrimSpace(line); trimmed != "" {
			keep(trimmed)
		}

		if readErr != nil {
			break
		}
	}

	if err := writer.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("flush rewrite file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("close rewrite file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Rename(tmp.Name(), s.replayPath()); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("replace replay file: %w", err)
	}

	return nil
}

// recoverCounters restores the event and byte counts from a pre-existing
// active file so the caps survive restarts.
func (s *spillover) recoverCounters() error {
	info, err := os.Stat(s.activePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("stat spillover file: %w", err)
	}

	file, err := os.Open(s.activePath())
	if err != nil {
		return fmt.Errorf("open spillover file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	count := 0
	reader := bufio.NewReader(file)

	for {
		line, readErr := reader.ReadString('\n')

		if strings.TrimSpace(line) != "" {
			count++
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return fmt.Errorf("scan spillover file: %w", readErr)
			}

			break
		}
	}

	s.activeCount = count
	s.activeBytes = info.Size()

	if count > 0 {
		s.logger.Info("recovered spillover backlog",
			slog.Int("events", count),
			slog.Int64("bytes", info.Size()),
		)
	}

	return nil
}

func (s *spillover) drop(event eventlog.EventLogEntry, reason string) {
	if s.onDrop != nil {
		s.onDrop(event, reason)
	}
}

func (s *spillover) activePath() string {
	return filepath.Join(s.dir, spillFileName)
}

func (s *spillover) replayPath() string {
	return filepath.Join(s.dir, replayFileName)
}
