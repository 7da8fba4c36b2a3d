// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// form.go - The mentor request form: name, contact and county.
package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatlink/internal/handover"
)

const (
	fieldName = iota
	fieldContact
	fieldCounty
	fieldCount
)

type detailsForm struct {
	fields [fieldCount]textinput.Model
	focus  int
	err    string
}

func newDetailsForm(saved *handover.Details) detailsForm {
	var f detailsForm
	labels := [fieldCount]string{"Name", "Phone or email", "County (e.g. Cluj or CJ)"}
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = labels[i]
		ti.CharLimit = 120
		ti.Width = 36
		f.fields[i] = ti
	}
	if saved != nil {
		f.fields[fieldName].SetValue(saved.Username)
		f.fields[fieldContact].SetValue(saved.Contact)
		f.fields[fieldCounty].SetValue(handover.CountyName(saved.Department))
	}
	return f
}

// open focuses the first empty field.
func (f *detailsForm) open() tea.Cmd {
	f.err = ""
	f.focus = f.firstEmpty()
	return f.refocus()
}

// firstEmpty returns the first empty field, or the name field when all are
// filled.
func (f *detailsForm) firstEmpty() int {
	for i := range f.fields {
		if f.value(i) == "" {
			return i
		}
	}
	return fieldName
}

func (f *detailsForm) move(delta int) tea.Cmd {
	f.focus = (f.focus + delta + fieldCount) % fieldCount
	return f.refocus()
}

func (f *detailsForm) refocus() tea.Cmd {
	var cmd tea.Cmd
	for i := range f.fields {
		if i == f.focus {
			cmd = f.fields[i].Focus()
		} else {
			f.fields[i].Blur()
		}
	}
	return cmd
}

func (f *detailsForm) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.fields[f.focus], cmd = f.fields[f.focus].Update(msg)
	return cmd
}

func (f *detailsForm) value(i int) string {
	return strings.TrimSpace(f.fields[i].Value())
}

// details validates the form. ok is false when a field is empty or the
// county is unknown; err then says which.
func (f *detailsForm) details() (handover.Details, bool) {
	d := handover.Details{
		Username:   f.value(fieldName),
		Contact:    f.value(fieldContact),
		Department: f.value(fieldCounty),
	}
	err := d.Validate()
	switch {
	case err == nil:
		f.err = ""
		return d, true
	case errors.Is(err, handover.ErrMissingName):
		f.err = "Please enter your name."
		f.focus = fieldName
	case errors.Is(err, handover.ErrMissingContact):
		f.err = "Please enter a phone number or email."
		f.focus = fieldContact
	case errors.Is(err, handover.ErrMissingCounty):
		f.err = "Please choose your county."
		f.focus = fieldCounty
	default:
		f.err = "Unknown county. Enter a name like Cluj or a code like CJ."
		f.focus = fieldCounty
	}
	f.refocus()
	return d, false
}
