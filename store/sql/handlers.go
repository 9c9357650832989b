package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func deliveryHandlers() repository.ModelHandlers[*deliveryRecord] {
	return repository.ModelHandlers[*deliveryRecord]{
		NewRecord: func() *deliveryRecord {
			return &deliveryRecord{}
		},
		GetID: func(record *deliveryRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *deliveryRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *deliveryRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func attemptHandlers() repository.ModelHandlers[*attemptRecord] {
	return repository.ModelHandlers[*attemptRecord]{
		NewRecord: func() *attemptRecord {
			return &attemptRecord{}
		},
		GetID: func(record *attemptRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *attemptRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *attemptRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func auditHandlers() repository.ModelHandlers[*auditRecord] {
	return repository.ModelHandlers[*auditRecord]{
		NewRecord: func() *auditRecord {
			return &auditRecord{}
		},
		GetID: func(record *auditRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *auditRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *auditRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func guardianActionHandlers() repository.ModelHandlers[*guardianActionRecord] {
	return repository.ModelHandlers[*guardianActionRecord]{
		NewRecord: func() *guardianActionRecord {
			return &guardianActionRecord{}
		},
		GetID: func(record *guardianActionRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *guardianActionRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *guardianActionRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

// Policies are keyed by project id, which is not a uuid.
func guardianPolicyHandlers() repository.ModelHandlers[*guardianPolicyRecord] {
	return repository.ModelHandlers[*guardianPolicyRecord]{
		NewRecord: func() *guardianPolicyRecord {
			return &guardianPolicyRecord{}
		},
		GetID: func(record *guardianPolicyRecord) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(*guardianPolicyRecord, uuid.UUID) {},
		GetIdentifier: func() string {
			return "project_id"
		},
		GetIdentifierValue: func(record *guardianPolicyRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ProjectID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
