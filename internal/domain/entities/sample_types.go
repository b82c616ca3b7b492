package entities

// SampleTypes returns a small membership catalog: people and organizations
// joined by memberships with an optional role, plus polymorphic contact
// addresses. The CLI registers it for demos and the tests use it as a
// fixture.
func SampleTypes() []RecordType {
	return []RecordType{
		{
			Name:       "Role",
			Table:      "roles",
			Fields:     []Field{{Name: "name", Kind: KindString}},
			HasMany:    []HasMany{{Name: "memberships", Target: "Membership", Inverse: "role"}},
			Timestamps: true,
		},
		{
			Name:  "Gender",
			Table: "genders",
			Fields: []Field{
				{Name: "name", Kind: KindString},
				{Name: "commonly_used_title", Kind: KindString},
			},
			HasMany:    []HasMany{{Name: "people", Target: "Person", Inverse: "gender"}},
			Timestamps: true,
		},
		{
			Name:  "Person",
			Table: "people",
			Fields: []Field{
				{Name: "name", Kind: KindString},
				{Name: "birth_date", Kind: KindTime},
			},
			BelongsTo: []BelongsTo{{Name: "gender", ForeignKey: "gender_id", Target: "Gender"}},
			HasMany: []HasMany{
				{Name: "memberships", Target: "Membership", Inverse: "person"},
				{Name: "contact_addresses", Target: "ContactAddress", Inverse: "contactable"},
			},
			Timestamps: true,
		},
		{
			Name:   "Organization",
			Table:  "organizations",
			Fields: []Field{{Name: "name", Kind: KindString}},
			HasMany: []HasMany{
				{Name: "memberships", Target: "Membership", Inverse: "organization"},
				{Name: "contact_addresses", Target: "ContactAddress", Inverse: "contactable"},
			},
			Timestamps: true,
		},
		{
			Name:  "Membership",
			Table: "memberships",
			Fields: []Field{
				{Name: "start_date", Kind: KindTime},
				{Name: "end_date", Kind: KindTime},
			},
			BelongsTo: []BelongsTo{
				{Name: "person", ForeignKey: "person_id", Target: "Person"},
				{Name: "organization", ForeignKey: "organization_id", Target: "Organization"},
				{Name: "role", ForeignKey: "role_id", Target: "Role"},
			},
			HasMany:    []HasMany{{Name: "contact_addresses", Target: "ContactAddress", Inverse: "contactable"}},
			Timestamps: true,
			Label:      describeMembership,
		},
		{
			Name:       "ContactAddressType",
			Table:      "contact_address_types",
			Fields:     []Field{{Name: "name", Kind: KindString}},
			HasMany:    []HasMany{{Name: "contact_addresses", Target: "ContactAddress", Inverse: "contact_address_type"}},
			Timestamps: true,
		},
		{
			Name:  "ContactAddress",
			Table: "contact_addresses",
			Fields: []Field{
				{Name: "label", Kind: KindString},
				{Name: "value", Kind: KindString},
			},
			BelongsTo: []BelongsTo{
				{Name: "contact_address_type", ForeignKey: "contact_address_type_id", Target: "ContactAddressType"},
				{Name: "contactable", ForeignKey: "contactable_id", Polymorphic: true, TypeColumn: "contactable_type"},
			},
			Timestamps: true,
			Label: func(r *Record) string {
				if v, ok := r.Get("value").(string); ok && v != "" {
					return v
				}
				return r.ID
			},
		},
	}
}

// SampleTypeNames returns the names of the sample types in declaration
// order.
func SampleTypeNames() []string {
	types := SampleTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Name
	}
	return names
}

func describeMembership(r *Record) string {
	return "person " + IDString(r.Get("person_id")) + " in organization " + IDString(r.Get("organization_id"))
}
