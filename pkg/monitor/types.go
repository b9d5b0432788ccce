// Copyright (c) OpenMMLab. All rights reserved.

package monitor

import (
	"time"

	"github.com/liokouras/varuna/pkg/eventlog"
	"github.com/liokouras/varuna/pkg/state"
)

type SendEventRequest struct {
	MsgType string  `json:"msg_type"`
	Content Content `json:"content"`
}

type Content struct {
	Text string `json:"text"`
}

// StateResponse is the control-plane record plus derived staleness.
type StateResponse struct {
	*state.Record
	Stale bool `json:"stale"`
}

type DefaultHandler struct {
	store      *state.Store
	events     *eventlog.EventLog
	staleAfter time.Duration
}
