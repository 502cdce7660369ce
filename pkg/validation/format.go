// Package validation provides common validation utilities.
package validation

import (
	"fmt"
	"strings"

	"github.com/iwvelando/ration-optimizer/pkg/constants"
)

// ValidateOutputFormat checks if the output format is one of the supported formats.
func ValidateOutputFormat(format string) error {
	switch format {
	case constants.OutputFormatPretty, constants.OutputFormatCSV, constants.OutputFormatYAML:
		return nil
	}
	return fmt.Errorf("expected output format of %s, %s or %s, got %s",
		constants.OutputFormatPretty, constants.OutputFormatCSV, constants.OutputFormatYAML, format)
}

// ValidatePoolSource checks the diagnosis pool source setting.
func ValidatePoolSource(source string) error {
	switch strings.TrimSpace(source) {
	case constants.PoolSourceStage, constants.PoolSourceBaseline:
		return nil
	}
	return fmt.Errorf("expected diagnose pool source of %s or %s, got %q",
		constants.PoolSourceStage, constants.PoolSourceBaseline, source)
}
