package entities

import "fmt"

// CreateMethod selects how a create draft is written at approval time.
type CreateMethod string

const (
	CreateStrict       CreateMethod = "create"
	CreateFindOrCreate CreateMethod = "find_or_create"
)

// UpdateMethod selects how an update draft is written at approval time.
type UpdateMethod string

const (
	UpdateStrict   UpdateMethod = "update"
	UpdateIfExists UpdateMethod = "update_if_exists"
)

// DeleteMethod selects how a delete draft is written at approval time.
type DeleteMethod string

const (
	DeleteStrict   DeleteMethod = "delete"
	DeleteIfExists DeleteMethod = "delete_if_exists"
)

// Options are per-draft overrides passed from submission to approval.
type Options struct {
	CreateMethod CreateMethod `json:"create_method,omitempty"`
	UpdateMethod UpdateMethod `json:"update_method,omitempty"`
	DeleteMethod DeleteMethod `json:"delete_method,omitempty"`
	Serializer   string       `json:"serializer,omitempty"`
}

// Validate checks that every set option is known and belongs to action.
func (o Options) Validate(action Action) error {
	switch o.CreateMethod {
	case "", CreateStrict, CreateFindOrCreate:
	default:
		return fmt.Errorf("%w: unknown create_method %q", ErrInvalidArgument, o.CreateMethod)
	}
	switch o.UpdateMethod {
	case "", UpdateStrict, UpdateIfExists:
	default:
		return fmt.Errorf("%w: unknown update_method %q", ErrInvalidArgument, o.UpdateMethod)
	}
	switch o.DeleteMethod {
	case "", DeleteStrict, DeleteIfExists:
	default:
		return fmt.Errorf("%w: unknown delete_method %q", ErrInvalidArgument, o.DeleteMethod)
	}
	if o.Serializer != "" && o.Serializer != SerializationJSON {
		return fmt.Errorf("%w: unknown serializer %q", ErrInvalidArgument, o.Serializer)
	}

	if o.CreateMethod != "" && action != ActionCreate {
		return fmt.Errorf("%w: create_method is not valid for %s drafts", ErrInvalidArgument, action)
	}
	if o.UpdateMethod != "" && action != ActionUpdate {
		return fmt.Errorf("%w: update_method is not valid for %s drafts", ErrInvalidArgument, action)
	}
	if o.DeleteMethod != "" && action != ActionDelete {
		return fmt.Errorf("%w: delete_method is not valid for %s drafts", ErrInvalidArgument, action)
	}
	return nil
}

// Create returns the create method, defaulting to strict.
func (o Options) Create() CreateMethod {
	if o.CreateMethod == "" {
		return CreateStrict
	}
	return o.CreateMethod
}

// Update returns the update method, defaulting to strict.
func (o Options) Update() UpdateMethod {
	if o.UpdateMethod == "" {
		return UpdateStrict
	}
	return o.UpdateMethod
}

// Delete returns the delete method, defaulting to strict.
func (o Options) Delete() DeleteMethod {
	if o.DeleteMethod == "" {
		return DeleteStrict
	}
	return o.DeleteMethod
}
