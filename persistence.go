package identity

import (
	persistence "github.com/goliatone/go-persistence-bun"
)

// RegisterModels registers every bun model the subsystem persists. Call once
// before building the persistence client so migrations and fixtures see the
// full schema.
func RegisterModels() {
	persistence.RegisterModel((*User)(nil))
	persistence.RegisterModel((*UserEmail)(nil))
	persistence.RegisterModel((*Account)(nil))
	persistence.RegisterModel((*Session)(nil))
	persistence.RegisterModel((*PersonalAccessToken)(nil))
}
