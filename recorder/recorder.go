// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

// Package recorder persists finished request/response pairs without ever
// blocking reply delivery.
package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/caffix/queue"
	"github.com/microsoft/dusseldorf/store"
	"github.com/microsoft/dusseldorf/types"
)

const insertTimeout = 5 * time.Second

// Recorder serialises interactions and appends them to the store from a
// single background goroutine fed by a queue. Failures are logged and
// swallowed.
type Recorder struct {
	store store.Store
	q     queue.Queue
	log   *slog.Logger
	done  chan struct{}
}

func New(s store.Store, l *slog.Logger) *Recorder {
	if l == nil {
		l = slog.Default()
	}

	r := &Recorder{
		store: s,
		q:     queue.NewQueue(),
		log:   l.WithGroup("recorder"),
		done:  make(chan struct{}),
	}

	go r.process()
	return r
}

// Record enqueues a finished pair. The interaction is serialised here, on
// the handler goroutine, so the pair can be released immediately after.
func (r *Recorder) Record(req types.Request, resp types.Response) {
	if req == nil || resp == nil {
		return
	}

	r.q.Append(&store.Interaction{
		Zone:        req.ZoneFQDN(),
		FQDN:        req.RequestFQDN(),
		Protocol:    req.Protocol(),
		ClientIP:    req.RemoteAddr(),
		Request:     req.JSON(),
		Response:    resp.JSON(),
		ReqSummary:  req.Summary(),
		RespSummary: resp.Summary(),
	})
}

// Stop drains the queue and terminates the background writer.
func (r *Recorder) Stop() {
	close(r.done)
}

func (r *Recorder) process() {
loop:
	for {
		select {
		case <-r.done:
			break loop
		case <-r.q.Signal():
			r.q.Process(r.insert)
		}
	}
	// final drain so accepted interactions are not lost on shutdown
	r.q.Process(r.insert)
}

func (r *Recorder) insert(data interface{}) {
	rec, ok := data.(*store.Interaction)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	start := time.Now()
	if _, err := r.store.RecordInteraction(ctx, rec); err != nil {
		r.log.Error("unable to save request/response pair", "zone", rec.Zone, "err", err)
		return
	}
	r.log.Debug("interaction recorded", "zone", rec.Zone,
		"summary", rec.ReqSummary, "db_write", time.Since(start).Seconds())
}
