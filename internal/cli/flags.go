package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

const (
	booleanFlagTypeName       = "bool"
	booleanFlagTrueLiteral    = "true"
	booleanFlagAcceptedValues = "true, false, yes, no, on, off, 1, 0"
	invalidBooleanFlagFormat  = "invalid boolean value %q for --%s; accepted values: %s"
)

var booleanFlagLiterals = map[string]bool{
	"true":  true,
	"t":     true,
	"1":     true,
	"yes":   true,
	"y":     true,
	"on":    true,
	"false": false,
	"f":     false,
	"0":     false,
	"no":    false,
	"n":     false,
	"off":   false,
}

// interpretBooleanLiteral parses the literals accepted by optional boolean
// flags. An empty value means true.
func interpretBooleanLiteral(input string) (bool, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return true, true
	}
	parsed, known := booleanFlagLiterals[normalized]
	return parsed, known
}

// optionalBooleanValue is a pflag.Value for booleans that may be written as
// "--flag", "--flag=no" or "--flag off".
type optionalBooleanValue struct {
	target  *bool
	flagKey string
}

func (value *optionalBooleanValue) Set(input string) error {
	parsed, known := interpretBooleanLiteral(input)
	if !known || value.target == nil {
		return fmt.Errorf(invalidBooleanFlagFormat, input, value.flagKey, booleanFlagAcceptedValues)
	}
	*value.target = parsed
	return nil
}

func (value *optionalBooleanValue) String() string {
	if value == nil || value.target == nil {
		return strconv.FormatBool(false)
	}
	return strconv.FormatBool(*value.target)
}

func (value *optionalBooleanValue) Type() string {
	return booleanFlagTypeName
}

// registerOptionalBooleanFlag registers an optional boolean flag on flagSet.
func registerOptionalBooleanFlag(flagSet *pflag.FlagSet, target *bool, name string, defaultValue bool, usage string) {
	if flagSet == nil || target == nil {
		return
	}
	*target = defaultValue
	flagSet.Var(&optionalBooleanValue{target: target, flagKey: name}, name, usage)
	if lookup := flagSet.Lookup(name); lookup != nil {
		lookup.DefValue = strconv.FormatBool(defaultValue)
		lookup.NoOptDefVal = booleanFlagTrueLiteral
	}
}

// normalizeOptionalBooleanArguments rewrites "--name value" into
// "--name=value" for the given optional boolean flags when value is a boolean
// literal, so pflag does not treat the literal as a positional argument.
// Everything after "--" is left untouched.
func normalizeOptionalBooleanArguments(arguments []string, flagNames ...string) []string {
	if len(arguments) == 0 || len(flagNames) == 0 {
		return arguments
	}
	optional := make(map[string]struct{}, len(flagNames))
	for _, flagName := range flagNames {
		optional["--"+flagName] = struct{}{}
	}
	normalized := make([]string, 0, len(arguments))
	for index := 0; index < len(arguments); index++ {
		current := arguments[index]
		if current == "--" {
			normalized = append(normalized, arguments[index:]...)
			break
		}
		if _, isOptional := optional[current]; isOptional && index+1 < len(arguments) {
			next := arguments[index+1]
			if parsed, known := interpretBooleanLiteral(next); known && next != "" {
				normalized = append(normalized, fmt.Sprintf("%s=%t", current, parsed))
				index++
				continue
			}
		}
		normalized = append(normalized, current)
	}
	return normalized
}
