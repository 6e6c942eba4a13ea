package link

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parksidelabs/noteboard/internal/notes"
)

// AcceptPath is the peer endpoint every push targets, relative to the linked
// file's base URI.
const AcceptPath = "/api/link/accept"

const defaultInterval = 30 * time.Second

var errMissingDatabase = errors.New("database handle is required")

// ProcessorConfig wires the outbox drain worker.
type ProcessorConfig struct {
	Database   *gorm.DB
	HTTPClient *http.Client
	Interval   time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Processor drains the LinkQueue on an interval. Queues for distinct linked
// files drain concurrently; rows within one linked file drain strictly in
// insertion order, and a failure parks the rest of that queue until the next
// pass.
type Processor struct {
	db       *gorm.DB
	client   *http.Client
	interval time.Duration
	clock    func() time.Time
	logger   *zap.Logger
}

// NewProcessor validates the configuration and returns a Processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("link.processor.new: %w", errMissingDatabase)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		db:       cfg.Database,
		client:   client,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Run drains the queue on the configured interval until the context ends.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ProcessOnce(ctx); err != nil {
				p.logger.Error("replication pass failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce drains all pending queue rows, one goroutine per linked file.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	var pending []LinkQueue
	err := p.db.WithContext(ctx).Order("id").Find(&pending).Error
	if err != nil {
		return fmt.Errorf("link.process.queue_query_failed: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	queues := make(map[int64][]LinkQueue)
	var order []int64
	for _, row := range pending {
		if _, seen := queues[row.LinkedFileID]; !seen {
			order = append(order, row.LinkedFileID)
		}
		queues[row.LinkedFileID] = append(queues[row.LinkedFileID], row)
	}

	var wg sync.WaitGroup
	for _, linkedFileID := range order {
		rows := queues[linkedFileID]
		wg.Add(1)
		go func(linkedFileID int64, rows []LinkQueue) {
			defer wg.Done()
			p.drainQueue(ctx, linkedFileID, rows)
		}(linkedFileID, rows)
	}
	wg.Wait()
	return nil
}

// drainQueue delivers one linked file's rows in order, stopping at the first
// failure so per-file ordering survives retries.
func (p *Processor) drainQueue(ctx context.Context, linkedFileID int64, rows []LinkQueue) {
	for i := range rows {
		if ctx.Err() != nil {
			return
		}
		if err := p.deliver(ctx, &rows[i]); err != nil {
			p.appendLog(ctx, EventFailed, fmt.Sprintf("delivery of %s for guid %s via linked file %d failed: %v",
				rows[i].Activity, rows[i].LinkGUID, linkedFileID, err))
			p.logger.Warn("replication delivery failed",
				zap.Int64("linked_file_id", linkedFileID),
				zap.Int64("queue_id", rows[i].ID),
				zap.Error(err))
			return
		}
		p.appendLog(ctx, EventDelivered, fmt.Sprintf("delivered %s for guid %s via linked file %d",
			rows[i].Activity, rows[i].LinkGUID, linkedFileID))
	}
}

func (p *Processor) deliver(ctx context.Context, row *LinkQueue) error {
	var linked LinkedFile
	if err := p.db.WithContext(ctx).Where("id = ?", row.LinkedFileID).Take(&linked).Error; err != nil {
		return fmt.Errorf("linked file lookup: %w", err)
	}

	payload, err := p.buildPayload(ctx, &linked, row)
	if err != nil {
		return err
	}

	// The row stays put until the peer acknowledges; a crash between the
	// mark and the delete re-sends, which the receiver's GUID dedup absorbs.
	if err := p.db.WithContext(ctx).Model(row).Update("enqueued", true).Error; err != nil {
		return fmt.Errorf("queue mark: %w", err)
	}

	if err := p.post(ctx, row.BaseURI, payload); err != nil {
		if resetErr := p.db.WithContext(ctx).Model(row).Update("enqueued", false).Error; resetErr != nil {
			p.logger.Error("queue row reset failed", zap.Int64("queue_id", row.ID), zap.Error(resetErr))
		}
		return err
	}

	if err := p.db.WithContext(ctx).Delete(row).Error; err != nil {
		return fmt.Errorf("queue delete: %w", err)
	}
	return nil
}

func (p *Processor) buildPayload(ctx context.Context, linked *LinkedFile, row *LinkQueue) (*ActivityPayload, error) {
	payload := &ActivityPayload{
		Activity:    row.Activity,
		HomeFile:    linked.HomeFileName,
		LinkGUID:    row.LinkGUID,
		OldLinkGUID: row.OldLinkGUID,
		Secret:      row.Secret,
	}
	if row.Activity == notes.ActivityDelete {
		return payload, nil
	}

	var header notes.NoteHeader
	err := p.db.WithContext(ctx).Where("link_guid = ? AND version = 0", row.LinkGUID).Take(&header).Error
	if err != nil {
		return nil, fmt.Errorf("header lookup for guid %s: %w", row.LinkGUID, err)
	}
	var content notes.NoteContent
	if err := p.db.WithContext(ctx).Where("note_header_id = ?", header.ID).Take(&content).Error; err != nil {
		return nil, fmt.Errorf("content lookup: %w", err)
	}
	var tags []notes.Tag
	if err := p.db.WithContext(ctx).Where("note_header_id = ?", header.ID).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("tag lookup: %w", err)
	}
	tagTexts := make([]string, 0, len(tags))
	for _, tag := range tags {
		tagTexts = append(tagTexts, tag.TagText)
	}

	payload.RemoteID = header.ID
	payload.Note = &NotePayload{
		NoteSubject:       header.NoteSubject,
		AuthorName:        header.AuthorName,
		DirectorMessage:   header.DirectorMessage,
		Body:              content.NoteBody,
		TagLine:           strings.Join(tagTexts, " "),
		CreatedAtSeconds:  header.CreatedAtSeconds,
		LastEditedSeconds: header.LastEditedSeconds,
	}

	if header.BaseNoteID != 0 {
		var base notes.NoteHeader
		if err := p.db.WithContext(ctx).Where("id = ?", header.BaseNoteID).Take(&base).Error; err != nil {
			return nil, fmt.Errorf("base lookup: %w", err)
		}
		payload.Note.BaseGUID = base.LinkGUID
	}
	return payload, nil
}

func (p *Processor) post(ctx context.Context, baseURI string, payload *ActivityPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload encode: %w", err)
	}
	url := strings.TrimRight(baseURI, "/") + AcceptPath
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request build: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := p.client.Do(request)
	if err != nil {
		return fmt.Errorf("push to %s: %w", url, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("push to %s: status %d", url, response.StatusCode)
	}
	return nil
}

func (p *Processor) appendLog(ctx context.Context, eventType, event string) {
	entry := LinkLog{
		EventTimeSeconds: p.clock().UTC().Unix(),
		EventType:        eventType,
		Event:            event,
	}
	if err := p.db.WithContext(ctx).Create(&entry).Error; err != nil {
		p.logger.Error("link log append failed", zap.Error(err))
	}
}
