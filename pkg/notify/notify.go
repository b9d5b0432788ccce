// Copyright (c) OpenMMLab. All rights reserved.

// Package notify pushes fleet operation reports to a Feishu-style text
// webhook.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/liokouras/varuna/pkg/remote"
)

type TextMessage struct {
	MsgType string `json:"msg_type"`
	Content struct {
		Text string `json:"text"`
	} `json:"content"`
}

// SendStopReport sends one aggregated message describing the outcome of a
// stop sweep.
func SendStopReport(webhookURL string, jobID string, results []remote.Result) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook address cannot be empty")
	}

	var msgBuffer bytes.Buffer
	msgBuffer.WriteString("【varuna stop】\n")
	if jobID != "" {
		msgBuffer.WriteString(fmt.Sprintf("Job: %s\n", jobID))
	}
	msgBuffer.WriteString(fmt.Sprintf("Processing time: %s\n", time.Now().Format("2006-01-02 15:04:05")))
	msgBuffer.WriteString("--------------------\n")

	if len(results) == 0 {
		msgBuffer.WriteString("No machines in list, nothing stopped\n")
	}

	failed := 0
	for i, res := range results {
		if res.OK() {
			msgBuffer.WriteString(fmt.Sprintf("%d. %s: stopped (attempts %d, %s)\n",
				i+1, res.Host, res.Attempts, res.Duration.Round(time.Millisecond)))
		} else {
			failed++
			msgBuffer.WriteString(fmt.Sprintf("%d. %s: FAILED after %d attempts: %v\n",
				i+1, res.Host, res.Attempts, res.Err))
		}
	}
	if failed > 0 {
		msgBuffer.WriteString(fmt.Sprintf("Failed hosts: %d of %d\n", failed, len(results)))
	}

	return SendTextMessage(webhookURL, msgBuffer.String())
}

// SendTextMessage posts one text message to the webhook.
func SendTextMessage(webhookURL string, text string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook address cannot be empty")
	}

	msg := TextMessage{MsgType: "text"}
	msg.Content.Text = text

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("message serialization failed: %w", err)
	}

	resp, err := http.Post(webhookURL, "application/json", bytes.NewBuffer(msgJSON))
	if err != nil {
		return fmt.Errorf("message sending failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned non-success status: %s", resp.Status)
	}

	return nil
}
