/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package notify

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleMessage() Message {
	return Message{
		AlertID:   "a-1",
		Title:     "cpu high",
		Body:      "sustained load",
		Severity:  "critical",
		Category:  "system",
		Source:    "host-1",
		Metric:    "cpu.usage",
		Value:     92,
		Threshold: 80,
		Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestConsoleChannelSend(t *testing.T) {
	ch := NewConsoleChannel(nil)
	if err := ch.Send(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if ch.Type() != "console" {
		t.Fatalf("unexpected type %q", ch.Type())
	}
}

func TestFileChannelAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.log")
	ch := NewFileChannel(path)

	if err := ch.Send(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	second := sampleMessage()
	second.AlertID = "a-2"
	if err := ch.Send(context.Background(), second); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		ids = append(ids, msg.AlertID)
	}
	if len(ids) != 2 || ids[0] != "a-1" || ids[1] != "a-2" {
		t.Fatalf("unexpected lines: %v", ids)
	}
}

func TestWebhookChannelSignsPayload(t *testing.T) {
	const secret = "s3cret"
	var gotSig string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Vigil-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, secret, map[string]string{"Authorization": "Bearer tok"})
	if err := ch.Send(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Fatalf("signature mismatch: got %s want %s", gotSig, want)
	}
}

func TestWebhookChannelNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, "", nil)
	if err := ch.Send(context.Background(), sampleMessage()); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestSlackChannelPayload(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, "#alerts")
	if err := ch.Send(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	text, _ := payload["text"].(string)
	if !strings.Contains(text, "CRITICAL") || !strings.Contains(text, "cpu high") {
		t.Fatalf("unexpected slack text: %q", text)
	}
	if payload["channel"] != "#alerts" {
		t.Fatalf("expected channel override, got %v", payload["channel"])
	}
}

func TestTeamsChannelPayload(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewTeamsChannel(srv.URL)
	if err := ch.Send(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if payload["@type"] != "MessageCard" {
		t.Fatalf("expected MessageCard payload, got %v", payload["@type"])
	}
}

func TestDiscordChannelPayload(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewDiscordChannel(srv.URL)
	if err := ch.Send(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	content, _ := payload["content"].(string)
	if !strings.Contains(content, "cpu high") {
		t.Fatalf("unexpected discord content: %q", content)
	}
}

func TestEmailChannelComposesMessage(t *testing.T) {
	ch := NewEmailChannel("smtp.example.com", 587, "vigil@example.com", []string{"ops@example.com"}, "user", "pass")

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	ch.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		return nil
	}

	if err := ch.Send(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "vigil@example.com" {
		t.Fatalf("unexpected addr/from: %s %s", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ops@example.com" {
		t.Fatalf("unexpected to: %v", gotTo)
	}
	if !strings.Contains(string(gotBody), "Subject: [Vigil CRITICAL] cpu high") {
		t.Fatalf("unexpected body:\n%s", gotBody)
	}
}
