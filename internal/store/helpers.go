package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
)

// marshalRecord encodes a record for a text/JSON column.
func marshalRecord(record questionnaire.Record) (string, error) {
	if record == nil {
		record = questionnaire.Record{}
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return string(data), nil
}

// scanResponseDocument scans a ResponseDocument from a single sql.Row.
// Columns: session_id, prolific_pid, tts_voice, data, created_at, updated_at.
func scanResponseDocument(row *sql.Row) (*ResponseDocument, error) {
	var doc ResponseDocument
	var data []byte
	err := row.Scan(&doc.SessionID, &doc.ProlificPID, &doc.TTSVoice, &data, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &doc.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record data for session %s: %w", doc.SessionID, err)
	}
	return &doc, nil
}

// scanMessages collects conversation messages from sql.Rows.
// Columns: message_id, role, content, created_at.
func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		m.Role = Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return msgs, nil
}
