package quiz

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// ChoiceSeparator splits the single choices column of a CSV question file.
const ChoiceSeparator = "|"

// Skipped describes a record dropped at load time.
type Skipped struct {
	Ref string // "line 7", "#3", or the record id
	Err error
}

// LoadResult is the outcome of a skip-and-warn load: valid questions in source
// order plus every record that was rejected.
type LoadResult struct {
	Questions []Question
	Skipped   []Skipped
}

// LoadFile reads questions from a .csv, .yaml/.yml or .json file.
//
// Malformed records are skipped and reported in LoadResult.Skipped. The load
// fails only if the file can't be read or parsed, or nothing valid remains.
func LoadFile(path string) (LoadResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, err
	}

	var res LoadResult
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		res, err = ParseCSV(bytes.NewReader(b))
	case ".yaml", ".yml":
		res, err = ParseYAML(b)
	case ".json":
		res, err = ParseJSON(b)
	default:
		return LoadResult{}, fmt.Errorf("unsupported question file type %q", ext)
	}
	if err != nil {
		return LoadResult{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(res.Questions) == 0 {
		return res, fmt.Errorf("%s: no valid questions (%d skipped)", path, len(res.Skipped))
	}
	return res, nil
}

// ParseCSV reads a header-led CSV file.
//
// Recognized columns (case-insensitive): id, question_text|question,
// choices ("|"-separated), correct_choice, correct_index, tip_short|explanation.
// Unknown columns are ignored.
func ParseCSV(r io.Reader) (LoadResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return LoadResult{}, errors.New("empty csv")
		}
		return LoadResult{}, err
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	pick := func(names ...string) int {
		for _, n := range names {
			if i, ok := col[n]; ok {
				return i
			}
		}
		return -1
	}
	var (
		cID      = pick("id")
		cText    = pick("question_text", "question")
		cChoices = pick("choices")
		cCorrect = pick("correct_choice")
		cIndex   = pick("correct_index")
		cExpl    = pick("tip_short", "explanation")
	)
	if cID < 0 || cText < 0 || cChoices < 0 || (cCorrect < 0 && cIndex < 0) {
		return LoadResult{}, errors.New("csv header must have id, question_text, choices and correct_choice (or correct_index)")
	}

	var (
		raws []RawQuestion
		refs []string
		bad  []Skipped
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				ref := "line " + strconv.Itoa(perr.StartLine)
				bad = append(bad, Skipped{Ref: ref, Err: fmt.Errorf("%w: %v", ErrInvalidRecord, perr.Err)})
				continue
			}
			return LoadResult{}, err
		}
		line, _ := cr.FieldPos(0)
		ref := "line " + strconv.Itoa(line)
		field := func(i int) string {
			if i < 0 || i >= len(rec) {
				return ""
			}
			return rec[i]
		}

		raw := RawQuestion{
			ID:            field(cID),
			Text:          field(cText),
			Choices:       strings.Split(field(cChoices), ChoiceSeparator),
			CorrectChoice: field(cCorrect),
			Explanation:   field(cExpl),
		}
		if s := strings.TrimSpace(field(cIndex)); s != "" && strings.TrimSpace(raw.CorrectChoice) == "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				bad = append(bad, Skipped{Ref: ref, Err: fmt.Errorf("%w: correct_index %q", ErrInvalidRecord, s)})
				continue
			}
			raw.CorrectIndex = &n
		}
		raws = append(raws, raw)
		refs = append(refs, ref)
	}

	res := FromRaw(raws, func(i int) string { return refs[i] })
	res.Skipped = append(bad, res.Skipped...)
	return res, nil
}

type questionFile struct {
	Questions []RawQuestion `json:"questions" yaml:"questions"`
}

// ParseYAML accepts either a top-level list of questions or a mapping with a
// "questions" list.
func ParseYAML(b []byte) (LoadResult, error) {
	var list []RawQuestion
	if err := yaml.Unmarshal(b, &list); err != nil {
		var doc questionFile
		if err2 := yaml.Unmarshal(b, &doc); err2 != nil {
			return LoadResult{}, fmt.Errorf("yaml unmarshal: %w", err2)
		}
		list = doc.Questions
	}
	return FromRaw(list, nil), nil
}

// ParseJSON accepts the same shapes as ParseYAML.
func ParseJSON(b []byte) (LoadResult, error) {
	trimmed := bytes.TrimSpace(b)
	var list []RawQuestion
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return LoadResult{}, fmt.Errorf("json unmarshal: %w", err)
		}
	} else {
		var doc questionFile
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return LoadResult{}, fmt.Errorf("json unmarshal: %w", err)
		}
		list = doc.Questions
	}
	return FromRaw(list, nil), nil
}

// FromRaw normalizes raw records, skipping invalid ones and later duplicates
// of an already accepted id. ref names record i in skip reports; nil uses "#i".
func FromRaw(raws []RawQuestion, ref func(i int) string) LoadResult {
	if ref == nil {
		ref = func(i int) string { return "#" + strconv.Itoa(i+1) }
	}
	res := LoadResult{Questions: make([]Question, 0, len(raws))}
	seen := make(map[string]struct{}, len(raws))
	for i, raw := range raws {
		q, err := raw.Normalize()
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Ref: ref(i), Err: err})
			continue
		}
		if _, dup := seen[q.ID]; dup {
			res.Skipped = append(res.Skipped, Skipped{Ref: ref(i), Err: fmt.Errorf("%w: duplicate id %s", ErrInvalidRecord, q.ID)})
			continue
		}
		seen[q.ID] = struct{}{}
		res.Questions = append(res.Questions, q)
	}
	return res
}
