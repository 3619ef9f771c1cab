// Package eval scores a candidate model against a validation dataset and
// produces the metrics the deployment guardrails consume.
package eval

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Suite describes one evaluation run.
type Suite struct {
	Name           string  `yaml:"name"`
	DatasetPath    string  `yaml:"dataset_path"`
	SampleLimit    int     `yaml:"sample_limit"`
	Concurrency    int     `yaml:"concurrency"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int64   `yaml:"max_tokens"`
}

// Record is one validation example: the prompt to send and the expected
// response kept for the results file.
type Record struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response,omitempty"`
}

// LoadSuite reads a suite definition from a YAML file and applies
// defaults for unset fields.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "eval: read suite file")
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "eval: parse suite file")
	}
	if s.DatasetPath == "" {
		return nil, eris.New("eval: suite missing dataset_path")
	}
	s.applyDefaults()
	return &s, nil
}

func (s *Suite) applyDefaults() {
	if s.Concurrency <= 0 {
		s.Concurrency = 4
	}
	if s.RequestsPerSec <= 0 {
		s.RequestsPerSec = 2
	}
	if s.Temperature == 0 {
		s.Temperature = 0.2
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = 4096
	}
}

// loadDataset reads JSONL validation records, honoring the sample limit.
func (s *Suite) loadDataset() ([]Record, error) {
	f, err := os.Open(s.DatasetPath)
	if err != nil {
		return nil, eris.Wrap(err, "eval: open dataset")
	}
	defer f.Close() //nolint:errcheck

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, eris.Wrap(err, "eval: parse dataset record")
		}
		records = append(records, rec)
		if s.SampleLimit > 0 && len(records) >= s.SampleLimit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "eval: read dataset")
	}
	if len(records) == 0 {
		return nil, eris.New("eval: dataset is empty")
	}
	return records, nil
}
