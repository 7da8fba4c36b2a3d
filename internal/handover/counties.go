// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package handover

import (
	"errors"
	"strings"
)

// County is a Romanian county. Its Code is sent as the handover department.
type County struct {
	Name string
	Code string
}

// Counties lists the departments a mentor can be requested for.
var Counties = []County{
	{"Alba", "AB"},
	{"Arad", "AR"},
	{"Argeș", "AG"},
	{"Bacău", "BC"},
	{"Bihor", "BH"},
	{"Bistrița-Năsăud", "BN"},
	{"Botoșani", "BT"},
	{"Brăila", "BR"},
	{"Brașov", "BV"},
	{"București", "B"},
	{"Buzău", "BZ"},
	{"Călărași", "CL"},
	{"Caraș-Severin", "CS"},
	{"Cluj", "CJ"},
	{"Constanța", "CT"},
	{"Covasna", "CV"},
	{"Dâmbovița", "DB"},
	{"Dolj", "DJ"},
	{"Galați", "GL"},
	{"Giurgiu", "GR"},
	{"Gorj", "GJ"},
	{"Harghita", "HR"},
	{"Hunedoara", "HD"},
	{"Ialomița", "IL"},
	{"Iași", "IS"},
	{"Ilfov", "IF"},
	{"Maramureș", "MM"},
	{"Mehedinți", "MH"},
	{"Mureș", "MS"},
	{"Neamț", "NT"},
	{"Olt", "OT"},
	{"Prahova", "PH"},
	{"Sălaj", "SJ"},
	{"Satu Mare", "SM"},
	{"Sibiu", "SB"},
	{"Suceava", "SV"},
	{"Teleorman", "TR"},
	{"Timiș", "TM"},
	{"Tulcea", "TL"},
	{"Vaslui", "VS"},
	{"Vâlcea", "VL"},
	{"Vrancea", "VN"},
}

// Detail validation errors.
var (
	ErrMissingName    = errors.New("handover: name is required")
	ErrMissingContact = errors.New("handover: contact is required")
	ErrMissingCounty  = errors.New("handover: county is required")
	ErrUnknownCounty  = errors.New("handover: unknown county")
)

// FindCounty matches s against county codes and names, ignoring case and
// Romanian diacritics.
func FindCounty(s string) (County, bool) {
	key := foldCounty(s)
	if key == "" {
		return County{}, false
	}
	for _, c := range Counties {
		if key == foldCounty(c.Code) || key == foldCounty(c.Name) {
			return c, true
		}
	}
	return County{}, false
}

// CountyName returns the display name for a county code, or the code itself
// when it is not known.
func CountyName(code string) string {
	if c, ok := FindCounty(code); ok {
		return c.Name
	}
	return code
}

var diacritics = strings.NewReplacer(
	"ă", "a", "â", "a", "î", "i", "ș", "s", "ş", "s", "ț", "t", "ţ", "t",
)

func foldCounty(s string) string {
	return diacritics.Replace(strings.ToLower(strings.TrimSpace(s)))
}

// Validate checks that the details carry everything a mentor needs and
// normalizes Department to a county code.
func (d *Details) Validate() error {
	switch {
	case strings.TrimSpace(d.Username) == "":
		return ErrMissingName
	case strings.TrimSpace(d.Contact) == "":
		return ErrMissingContact
	case strings.TrimSpace(d.Department) == "":
		return ErrMissingCounty
	}
	c, ok := FindCounty(d.Department)
	if !ok {
		return ErrUnknownCounty
	}
	d.Department = c.Code
	return nil
}
