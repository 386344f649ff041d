package models

import (
	hrstrings "hrportal/pkg/platform/strings"
)

// RecomputeCompleteness derives the missing-field lists, regulator validity
// and completeness percentage from the current field values. It always
// recomputes from scratch.
func (r *Record) RecomputeCompleteness() {
	var missing, dhaMissing []string
	mandatory, present := 0, 0
	for _, f := range fields {
		absent := IsMissing(f.Get(r))
		if f.Mandatory {
			mandatory++
			if absent {
				missing = append(missing, f.Name)
			} else {
				present++
			}
		}
		if f.DHADOHRequired && absent {
			dhaMissing = append(dhaMissing, f.Name)
		}
	}

	if missing == nil {
		missing = []string{}
	}
	if dhaMissing == nil {
		dhaMissing = []string{}
	}
	r.MissingFields = missing
	r.DHADOHMissingFields = dhaMissing
	r.DHADOHValid = len(dhaMissing) == 0
	r.CompletenessPct = 100
	if mandatory > 0 {
		r.CompletenessPct = present * 100 / mandatory
	}
}

// ApplyUpdates writes non-nil values into r and returns the trackable fields
// whose value changed. Changed trackable fields are appended to
// AmendedFields without duplicates. Completeness is recomputed afterwards.
func (r *Record) ApplyUpdates(updates map[string]*string) []string {
	var amended []string
	for _, f := range r.write(updates) {
		if f.Trackable {
			amended = append(amended, f.Name)
		}
	}
	r.AmendedFields = hrstrings.AppendUnique(r.AmendedFields, amended...)
	r.RecomputeCompleteness()
	return amended
}

// Edit is the HR correction path. It writes non-nil values and returns every
// changed field name; AmendedFields only records employee submissions and is
// left untouched.
func (r *Record) Edit(updates map[string]*string) []string {
	var changed []string
	for _, f := range r.write(updates) {
		changed = append(changed, f.Name)
	}
	r.RecomputeCompleteness()
	return changed
}

func (r *Record) write(updates map[string]*string) []Field {
	var changed []Field
	for _, f := range fields {
		v, ok := updates[f.Name]
		if !ok || v == nil || f.Get(r) == *v {
			continue
		}
		f.Set(r, *v)
		changed = append(changed, f)
	}
	return changed
}
