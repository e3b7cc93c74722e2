// Package stats persists completed downloads and the running aggregates
// derived from them.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Media type keys always present in TypeStats.
const (
	TypeImage = "image"
	TypeVideo = "video"
)

// PostID is a source post id. Older ledgers stored ids as JSON numbers.
type PostID string

func (id *PostID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = PostID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("post id must be a string or number: %w", err)
	}
	*id = PostID(n.String())
	return nil
}

// Record is one completed download.
type Record struct {
	ID        PostID    `json:"id"`
	Category  string    `json:"category"`
	Type      string    `json:"type"`
	Size      int64     `json:"size"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"filePath"`
	Source    string    `json:"source,omitempty"`
	HasAudio  *bool     `json:"audioChannel,omitempty"`
}

// Ledger is the persisted aggregate state. Downloads are in insertion order.
type Ledger struct {
	Downloads      []Record       `json:"downloads"`
	TotalDownloads int            `json:"totalDownloads"`
	TotalSize      int64          `json:"totalSize"`
	FirstDownload  *time.Time     `json:"firstDownload"`
	LastDownload   *time.Time     `json:"lastDownload"`
	CategoryStats  map[string]int `json:"categoryStats"`
	TypeStats      map[string]int `json:"typeStats"`
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	l := &Ledger{}
	l.normalize()
	return l
}

// normalize fills fields older or hand-edited files may lack.
func (l *Ledger) normalize() {
	if l.Downloads == nil {
		l.Downloads = []Record{}
	}
	if l.CategoryStats == nil {
		l.CategoryStats = map[string]int{}
	}
	if l.TypeStats == nil {
		l.TypeStats = map[string]int{}
	}
	for _, k := range []string{TypeImage, TypeVideo} {
		if _, ok := l.TypeStats[k]; !ok {
			l.TypeStats[k] = 0
		}
	}
}

// Apply appends rec and updates every aggregate.
func (l *Ledger) Apply(rec Record) {
	l.normalize()
	l.Downloads = append(l.Downloads, rec)
	l.TotalDownloads++
	l.TotalSize += rec.Size
	l.CategoryStats[rec.Category]++
	l.TypeStats[rec.Type]++

	ts := rec.Timestamp
	if l.FirstDownload == nil {
		l.FirstDownload = &ts
	}
	l.LastDownload = &ts
}

// Consistent reports whether the aggregates agree with Downloads.
func (l *Ledger) Consistent() bool {
	if l.TotalDownloads != len(l.Downloads) {
		return false
	}
	var size int64
	for _, d := range l.Downloads {
		size += d.Size
	}
	return size == l.TotalSize &&
		sum(l.CategoryStats) == l.TotalDownloads &&
		sum(l.TypeStats) == l.TotalDownloads
}

// Recent returns up to n records, newest first.
func (l *Ledger) Recent(n int) []Record {
	if n > len(l.Downloads) {
		n = len(l.Downloads)
	}
	out := make([]Record, 0, n)
	for i := len(l.Downloads) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.Downloads[i])
	}
	return out
}

// Count is a key with its download count.
type Count struct {
	Key   string
	Count int
}

// SortedCounts orders a stats map by count descending, then key.
func SortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func sum(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

// String renders the id; numeric ids from older ledgers stay as written.
func (id PostID) String() string {
	return string(id)
}

