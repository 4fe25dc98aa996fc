package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"marketviews/internal/lifecycle"
)

// Aggregators is the YAML document listing the feeds to enable.
//
//	feeds:
//	  - id: LMAX-EURUSD
//	    symbol: EURUSD
//	    aggregators:
//	      - name: top
//	        type: top
//	      - name: bars-1m
//	        type: ohlc
//	        props:
//	          timeFrame: 1m
//	          isHistoryRecorder: "true"
type Aggregators struct {
	Feeds []lifecycle.FeedSpec `yaml:"feeds"`
}

// LoadAggregators reads the definitions file at path.
func LoadAggregators(path string) (*Aggregators, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open aggregators file: %w", err)
	}
	defer f.Close()
	return ParseAggregators(f)
}

// ParseAggregators decodes a definitions document. Unknown fields are rejected.
func ParseAggregators(r io.Reader) (*Aggregators, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read aggregators: %w", err)
	}

	var out Aggregators
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse aggregators: %w", err)
	}

	seen := make(map[string]bool, len(out.Feeds))
	for i, feed := range out.Feeds {
		if feed.ID == "" {
			return nil, fmt.Errorf("feed %d: id is required", i)
		}
		if seen[feed.ID] {
			return nil, fmt.Errorf("feed %s: duplicate id", feed.ID)
		}
		seen[feed.ID] = true
		for j, def := range feed.Aggregators {
			if def.Name == "" || def.Type == "" {
				return nil, fmt.Errorf("feed %s: aggregator %d: name and type are required", feed.ID, j)
			}
		}
	}
	return &out, nil
}
