package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/qnetctl/qnetctl/internal/command"
)

var (
	ErrLevelOutOfRange = errors.New("mcptools: level out of range")
	ErrUnknownSubtype  = errors.New("mcptools: unknown subtype")
	ErrNotFound        = errors.New("mcptools: not found")
)

const (
	emptySchema = `{"type":"object"}`
	iidSchema   = `{"type":"object","properties":{"iid":{"type":"integer","description":"Integration ID of the output"}},"required":["iid"]}`
	levelSchema = `{"type":"object","properties":{"iid":{"type":"integer","description":"Integration ID of the output"},"level":{"type":"number","description":"Target level, 0 to 100"}},"required":["iid","level"]}`

	subtypeSchema     = `{"type":"object","properties":{"subtype":{"type":"string","description":"Custom output subtype"}},"required":["subtype"]}`
	subtypeNameSchema = `{"type":"object","properties":{"subtype":{"type":"string","description":"Custom output subtype"},"name":{"type":"string","description":"Name words to search for"}},"required":["subtype","name"]}`
	nameSchema        = `{"type":"object","properties":{"name":{"type":"string","description":"Name words to search for"}},"required":["name"]}`

	areaSchema      = `{"type":"object","properties":{"area_id":{"type":"integer","description":"Integration ID of the area"}},"required":["area_id"]}`
	areaLevelSchema = `{"type":"object","properties":{"area_id":{"type":"integer","description":"Integration ID of the area"},"level":{"type":"number","description":"Target level, 0 to 100"}},"required":["area_id","level"]}`
)

type iidArgs struct {
	IID int64 `json:"iid"`
}

type levelArgs struct {
	IID   int64   `json:"iid"`
	Level float64 `json:"level"`
}

type subtypeArgs struct {
	Subtype string `json:"subtype"`
}

type subtypeNameArgs struct {
	Subtype string `json:"subtype"`
	Name    string `json:"name"`
}

type nameArgs struct {
	Name string `json:"name"`
}

type areaArgs struct {
	AreaID int64 `json:"area_id"`
}

type areaLevelArgs struct {
	AreaID int64   `json:"area_id"`
	Level  float64 `json:"level"`
}

func (s *Server) registerTools() {
	s.register("get_areas",
		"List all areas (rooms, floors, zones) in the system with their integration IDs and hierarchical paths.",
		emptySchema, s.getAreas)
	s.register("get_outputs",
		"List all outputs (lights, shades, fans) in the system with their integration IDs, subtypes and paths.",
		emptySchema, s.getOutputs)
	s.register("get_output_by_iid",
		"Get a single output by its integration ID.",
		iidSchema, s.getOutputByIID)
	s.register("get_custom_output_subtypes",
		"List the custom output subtypes that can be used with the subtype-based queries.",
		emptySchema, s.getCustomOutputSubtypes)
	s.register("get_outputs_by_subtype",
		"List all outputs of one custom subtype.",
		subtypeSchema, s.getOutputsBySubtype)
	s.register("find_outputs_by_subtype",
		"Search outputs of one custom subtype by name words; matches word sequences in the hierarchical path, with synonym expansion.",
		subtypeNameSchema, s.findOutputsBySubtype)
	s.register("find_areas_by_area_name",
		"Search areas by name words; matches word sequences in the hierarchical path, with synonym expansion.",
		nameSchema, s.findAreasByAreaName)
	s.register("find_outputs_by_output_name",
		"Search outputs by name words; matches word sequences in the hierarchical path, with synonym expansion.",
		nameSchema, s.findOutputsByOutputName)
	s.register("get_output_level",
		"Read the current level of an output, 0 to 100.",
		iidSchema, s.getOutputLevel)
	s.register("set_output_level",
		"Set the level of an output, 0 to 100.",
		levelSchema, s.setOutputLevel)
	s.register("get_area_level",
		"Read the levels of every output in an area; returns the average and the per-output readings.",
		areaSchema, s.getAreaLevel)
	s.register("set_area_level",
		"Set every output in an area to one level, 0 to 100.",
		areaLevelSchema, s.setAreaLevel)
}

func (s *Server) getAreas(_ context.Context, _ json.RawMessage) (any, error) {
	return s.db.Areas(), nil
}

func (s *Server) getOutputs(_ context.Context, _ json.RawMessage) (any, error) {
	return s.db.Outputs(), nil
}

func (s *Server) getOutputByIID(_ context.Context, raw json.RawMessage) (any, error) {
	var args iidArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	output, ok := s.db.OutputByIID(args.IID)
	if !ok {
		return nil, fmt.Errorf("%w: output %d", ErrNotFound, args.IID)
	}
	return output, nil
}

func (s *Server) getCustomOutputSubtypes(_ context.Context, _ json.RawMessage) (any, error) {
	subtypes := make([]string, 0, len(s.typeMap))
	for name := range s.typeMap {
		subtypes = append(subtypes, name)
	}
	sort.Strings(subtypes)
	return subtypes, nil
}

func (s *Server) getOutputsBySubtype(_ context.Context, raw json.RawMessage) (any, error) {
	var args subtypeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	subtype, err := s.normalizeSubtype(args.Subtype)
	if err != nil {
		return nil, err
	}
	return s.db.OutputsBySubtype(subtype), nil
}

func (s *Server) findOutputsBySubtype(_ context.Context, raw json.RawMessage) (any, error) {
	var args subtypeNameArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	subtype, err := s.normalizeSubtype(args.Subtype)
	if err != nil {
		return nil, err
	}
	re, err := s.buildSearchPattern(args.Name)
	if err != nil {
		return nil, err
	}
	var results []any
	for _, output := range s.db.OutputsBySubtype(subtype) {
		if re.MatchString(strings.ToLower(output.Path)) {
			results = append(results, output)
		}
	}
	return results, nil
}

func (s *Server) findAreasByAreaName(_ context.Context, raw json.RawMessage) (any, error) {
	var args nameArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	re, err := s.buildSearchPattern(args.Name)
	if err != nil {
		return nil, err
	}
	var results []any
	for _, area := range s.db.Areas() {
		if re.MatchString(strings.ToLower(area.Path)) {
			results = append(results, area)
		}
	}
	return results, nil
}

func (s *Server) findOutputsByOutputName(_ context.Context, raw json.RawMessage) (any, error) {
	var args nameArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	re, err := s.buildSearchPattern(args.Name)
	if err != nil {
		return nil, err
	}
	var results []any
	for _, output := range s.db.Outputs() {
		if re.MatchString(strings.ToLower(output.Path)) {
			results = append(results, output)
		}
	}
	return results, nil
}

func (s *Server) getOutputLevel(ctx context.Context, raw json.RawMessage) (any, error) {
	var args iidArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if _, ok := s.db.OutputByIID(args.IID); !ok {
		return nil, fmt.Errorf("%w: output %d", ErrNotFound, args.IID)
	}
	return s.ctrl.ExecuteCommand(ctx, command.OutputGetZoneLevel(int(args.IID)))
}

func (s *Server) setOutputLevel(ctx context.Context, raw json.RawMessage) (any, error) {
	var args levelArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if _, ok := s.db.OutputByIID(args.IID); !ok {
		return nil, fmt.Errorf("%w: output %d", ErrNotFound, args.IID)
	}
	if err := validateLevel(args.Level); err != nil {
		return nil, err
	}
	if _, err := s.ctrl.ExecuteCommand(ctx, command.OutputSetZoneLevel(int(args.IID), args.Level)); err != nil {
		return nil, err
	}
	return map[string]string{"status": "ok"}, nil
}

func (s *Server) getAreaLevel(ctx context.Context, raw json.RawMessage) (any, error) {
	var args areaArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if _, ok := s.db.AreaByIID(args.AreaID); !ok {
		return nil, fmt.Errorf("%w: area %d", ErrNotFound, args.AreaID)
	}
	return s.ctrl.ExecuteCommand(ctx, command.AreaGetZoneLevel(int(args.AreaID)))
}

func (s *Server) setAreaLevel(ctx context.Context, raw json.RawMessage) (any, error) {
	var args areaLevelArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if _, ok := s.db.AreaByIID(args.AreaID); !ok {
		return nil, fmt.Errorf("%w: area %d", ErrNotFound, args.AreaID)
	}
	if err := validateLevel(args.Level); err != nil {
		return nil, err
	}
	if _, err := s.ctrl.ExecuteCommand(ctx, command.AreaSetZoneLevel(int(args.AreaID), args.Level)); err != nil {
		return nil, err
	}
	return map[string]string{"status": "ok"}, nil
}

func validateLevel(level float64) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: %v is not between 0 and 100", ErrLevelOutOfRange, level)
	}
	return nil
}

// normalizeSubtype lower-cases and checks the custom subtype vocabulary.
func (s *Server) normalizeSubtype(subtype string) (string, error) {
	subtype = strings.ToLower(strings.TrimSpace(subtype))
	if _, ok := s.typeMap[subtype]; !ok {
		known := make([]string, 0, len(s.typeMap))
		for name := range s.typeMap {
			known = append(known, name)
		}
		sort.Strings(known)
		return "", fmt.Errorf("%w: %q (known: %s)", ErrUnknownSubtype, subtype, strings.Join(known, ", "))
	}
	return subtype, nil
}

// buildSearchPattern turns space-separated name words into an ordered
// word-sequence regex over lowercased paths, expanding any word that
// belongs to a synonym set into an alternation of the whole set.
func (s *Server) buildSearchPattern(name string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	parts := strings.Fields(strings.ToLower(name))
	for _, part := range parts {
		b.WriteString(".*")
		b.WriteString(s.wordPattern(part))
	}
	if len(parts) > 0 {
		b.WriteString(".*")
	}
	return regexp.Compile(b.String())
}

func (s *Server) wordPattern(word string) string {
	for _, set := range s.synonyms {
		for _, synonym := range set {
			if word != synonym {
				continue
			}
			escaped := make([]string, 0, len(set))
			for _, alt := range set {
				escaped = append(escaped, regexp.QuoteMeta(alt))
			}
			return "(" + strings.Join(escaped, "|") + ")"
		}
	}
	return regexp.QuoteMeta(word)
}
