package conversation

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LoadFile reads conversations from a .json or .csv file.
func LoadFile(path string) ([]Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open conversations: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f)
	default:
		return ReadJSON(f)
	}
}

// ReadJSON decodes an array of conversations and validates senders.
func ReadJSON(r io.Reader) ([]Conversation, error) {
	var raw []struct {
		ID       string `json:"conversation_id"`
		Messages []struct {
			Type      string `json:"type"`
			Origin    string `json:"origin"`
			Sender    string `json:"sender"`
			Content   string `json:"content"`
			MediaURL  string `json:"mediaUrl"`
			CreatedAt string `json:"createdAt"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}

	out := make([]Conversation, 0, len(raw))
	for _, rc := range raw {
		if rc.ID == "" {
			return nil, errors.New("conversation without conversation_id")
		}
		c := Conversation{ID: rc.ID, Messages: make([]Message, 0, len(rc.Messages))}
		for i, rm := range rc.Messages {
			sender, err := ParseSender(rm.Sender)
			if err != nil {
				return nil, fmt.Errorf("conversation %s message %d: %w", rc.ID, i, err)
			}
			c.Messages = append(c.Messages, Message{
				Type:      rm.Type,
				Origin:    rm.Origin,
				Sender:    sender,
				Content:   rm.Content,
				MediaURL:  rm.MediaURL,
				CreatedAt: rm.CreatedAt,
			})
		}
		out = append(out, c)
	}
	return out, nil
}

// ReadCSV reads one message per row. The header row must name the columns
// conversation_id, type, origin, sender, content, media_url and created_at
// in any order. Conversations appear in order of their first row.
func ReadCSV(r io.Reader) ([]Conversation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"conversation_id", "sender", "content"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("csv header is missing column %q", name)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var out []Conversation
	pos := map[string]int{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		id := field(rec, "conversation_id")
		if id == "" {
			return nil, fmt.Errorf("csv line %d: empty conversation_id", line)
		}
		sender, err := ParseSender(field(rec, "sender"))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		idx, ok := pos[id]
		if !ok {
			idx = len(out)
			pos[id] = idx
			out = append(out, Conversation{ID: id})
		}
		out[idx].Messages = append(out[idx].Messages, Message{
			Type:      field(rec, "type"),
			Origin:    field(rec, "origin"),
			Sender:    sender,
			Content:   field(rec, "content"),
			MediaURL:  field(rec, "media_url"),
			CreatedAt: field(rec, "created_at"),
		})
	}
	return out, nil
}
