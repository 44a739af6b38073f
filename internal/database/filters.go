package database

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter rewrites one entity at load time. Filters run in the order they
// were enabled, each seeing the previous one's result.
type Filter func(e Entity) Entity

type filterFactory func(args []string) (Filter, error)

var filterRegistry = map[string]filterFactory{
	"name_replace":         newNameReplaceFilter,
	"preserve_number":      newPreserveNumberFilter,
	"subtype_fix":          newSubtypeFixFilter,
	"type_suffix":          newTypeSuffixFilter,
	"strip_numeric_prefix": newStripNumericPrefixFilter,
	"strip_numeric_suffix": newStripNumericSuffixFilter,
}

// NewFilter builds a registered filter from its name and arguments.
func NewFilter(name string, args []string) (Filter, error) {
	factory, ok := filterRegistry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
	return factory(args)
}

// name_replace <old> <new>: substring replacement in the name.
func newNameReplaceFilter(args []string) (Filter, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: name_replace wants <old> <new>", ErrBadFilterArgs)
	}
	old, repl := args[0], args[1]
	return func(e Entity) Entity {
		e.Name = strings.ReplaceAll(e.Name, old, repl)
		return e
	}, nil
}

var digitWords = map[string]string{
	"0": "Zero", "1": "One", "2": "Two", "3": "Three", "4": "Four",
	"5": "Five", "6": "Six", "7": "Seven", "8": "Eight", "9": "Nine",
}

var reDigits = regexp.MustCompile(`\d+`)

// preserve_number <match>: in names containing match, spell single digits
// out as words so later numeric-stripping filters leave them alone.
func newPreserveNumberFilter(args []string) (Filter, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: preserve_number wants <name-match>", ErrBadFilterArgs)
	}
	match := args[0]
	return func(e Entity) Entity {
		if strings.Contains(e.Name, match) {
			e.Name = reDigits.ReplaceAllStringFunc(e.Name, func(num string) string {
				if word, ok := digitWords[num]; ok {
					return word
				}
				return num
			})
		}
		return e
	}, nil
}

// subtype_fix <field> <contains> <new-subtype>: rewrite the subtype when
// the named field contains the fragment.
func newSubtypeFixFilter(args []string) (Filter, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("%w: subtype_fix wants <field> <match> <new-subtype>", ErrBadFilterArgs)
	}
	field, match, newSubtype := args[0], args[1], args[2]
	pick := func(e Entity) (string, bool) {
		switch field {
		case "name":
			return e.Name, true
		case "subtype":
			return e.Subtype, true
		case "type":
			return string(e.Type), true
		case "db_id":
			return e.DBID, true
		default:
			return "", false
		}
	}
	if _, ok := pick(Entity{}); !ok {
		return nil, fmt.Errorf("%w: subtype_fix field %q", ErrBadFilterArgs, field)
	}
	return func(e Entity) Entity {
		if target, ok := pick(e); ok && strings.Contains(target, match) {
			e.Subtype = newSubtype
		}
		return e
	}, nil
}

// type_suffix <output-type> <suffix>: append suffix to names of outputs
// of the given subtype, unless already present.
func newTypeSuffixFilter(args []string) (Filter, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: type_suffix wants <output-type> <suffix>", ErrBadFilterArgs)
	}
	outputType, suffix := args[0], args[1]
	return func(e Entity) Entity {
		if e.Subtype == outputType && !strings.Contains(e.Name, suffix) {
			e.Name = e.Name + " " + suffix
		}
		return e
	}, nil
}

var (
	reNumericPrefix = regexp.MustCompile(`^\d+ *`)
	reNumericSuffix = regexp.MustCompile(` *\d+$`)
)

// strip_numeric_prefix [match]: drop a leading number from matching names
// (all names when no match argument is given).
func newStripNumericPrefixFilter(args []string) (Filter, error) {
	if len(args) > 1 {
		return nil, fmt.Errorf("%w: strip_numeric_prefix wants at most <name-match>", ErrBadFilterArgs)
	}
	return newNumericStripFilter(args, reNumericPrefix), nil
}

// strip_numeric_suffix [match]: drop a trailing number from matching names.
func newStripNumericSuffixFilter(args []string) (Filter, error) {
	if len(args) > 1 {
		return nil, fmt.Errorf("%w: strip_numeric_suffix wants at most <name-match>", ErrBadFilterArgs)
	}
	return newNumericStripFilter(args, reNumericSuffix), nil
}

func newNumericStripFilter(args []string, re *regexp.Regexp) Filter {
	match := ""
	if len(args) == 1 {
		match = args[0]
	}
	return func(e Entity) Entity {
		if match == "" || strings.Contains(e.Name, match) {
			e.Name = re.ReplaceAllString(e.Name, "")
		}
		return e
	}
}
