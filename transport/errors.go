package transport

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
)

func configError(connectorType core.ConnectorType, message string, metadata map[string]any) *goerrors.Error {
	fields := map[string]any{"connector_type": string(connectorType)}
	for key, value := range metadata {
		fields[key] = value
	}
	return core.NewConfigError(string(connectorType)+": "+message, fields)
}

func requiredField(connectorType core.ConnectorType, field string) *goerrors.Error {
	return configError(connectorType, field+" is required", map[string]any{"field": field})
}
