package spira

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

// Incident artifact-field ids, as used by the field-value data-mapping
// endpoints.
const (
	FieldSeverity int64 = 1
	FieldPriority int64 = 2
	FieldStatus   int64 = 3
	FieldType     int64 = 4
)

// attachmentTypeURL marks a document as a URL attachment rather than a file.
const attachmentTypeURL int64 = 2

// apiTime carries Spira's WCF date encoding: "/Date(<millis>[±hhmm])/".
// The millisecond value is the UTC epoch instant; the optional zone suffix is
// display metadata and does not shift it. Some deployments return plain
// ISO 8601 instead, which UnmarshalJSON also accepts.
type apiTime time.Time

var wcfDatePattern = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

func (t apiTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"/Date(%d)/"`, time.Time(t).UnixMilli())), nil
}

func (t *apiTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding date: %w", err)
	}

	if m := wcfDatePattern.FindStringSubmatch(raw); m != nil {
		millis, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parsing wcf date %q: %w", raw, err)
		}
		*t = apiTime(time.UnixMilli(millis).UTC())
		return nil
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("parsing date %q: expected /Date(millis)/ or RFC 3339", raw)
	}
	*t = apiTime(parsed.UTC())
	return nil
}

// wcf wraps a time for the wire, omitting zero times entirely.
func wcf(t time.Time) *apiTime {
	if t.IsZero() {
		return nil
	}
	at := apiTime(t)
	return &at
}

func wcfPtr(t *time.Time) *apiTime {
	if t == nil {
		return nil
	}
	return wcf(*t)
}

func tsOrZero(t *apiTime) time.Time {
	if t == nil {
		return time.Time{}
	}
	return time.Time(*t)
}

func tsPtr(t *apiTime) *time.Time {
	if t == nil {
		return nil
	}
	v := time.Time(*t)
	return &v
}

// ValidationMessage is one field-level rejection in a 400 response.
type ValidationMessage struct {
	FieldName string `json:"FieldName"`
	Message   string `json:"Message"`
}

// ValidationError is returned when Spira rejects a write with HTTP 400 and a
// structured message list.
type ValidationError struct {
	Messages []ValidationMessage
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return "spira: validation failed"
	}
	parts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		if m.FieldName != "" {
			parts = append(parts, m.FieldName+": "+m.Message)
		} else {
			parts = append(parts, m.Message)
		}
	}
	return "spira: validation failed: " + strings.Join(parts, "; ")
}

// apiFilter is one entry of the filter array accepted by the search
// endpoints.
type apiFilter struct {
	PropertyName   string        `json:"PropertyName"`
	IntValue       *int64        `json:"IntValue,omitempty"`
	StringValue    *string       `json:"StringValue,omitempty"`
	DateRangeValue *apiDateRange `json:"DateRangeValue,omitempty"`
}

type apiDateRange struct {
	StartDate     *apiTime `json:"StartDate,omitempty"`
	EndDate       *apiTime `json:"EndDate,omitempty"`
	ConsiderTimes bool     `json:"ConsiderTimes"`
}

type apiUser struct {
	UserID       *int64 `json:"UserId"`
	UserName     string `json:"UserName"`
	FirstName    string `json:"FirstName"`
	LastName     string `json:"LastName"`
	EmailAddress string `json:"EmailAddress,omitempty"`
	Active       bool   `json:"Active"`
}

func (a apiUser) toModel() model.User {
	u := model.User{
		Login:     a.UserName,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     a.EmailAddress,
		Active:    a.Active,
	}
	if a.UserID != nil {
		u.ID = *a.UserID
	}
	return u
}

type apiIncident struct {
	IncidentID        *int64              `json:"IncidentId"`
	ProjectID         int64               `json:"ProjectId,omitempty"`
	Name              string              `json:"Name"`
	Description       string              `json:"Description"`
	IncidentStatusID  *int64              `json:"IncidentStatusId"`
	IncidentTypeID    *int64              `json:"IncidentTypeId,omitempty"`
	PriorityID        *int64              `json:"PriorityId,omitempty"`
	SeverityID        *int64              `json:"SeverityId,omitempty"`
	OpenerID          *int64              `json:"OpenerId,omitempty"`
	OwnerID           *int64              `json:"OwnerId,omitempty"`
	DetectedReleaseID *int64              `json:"DetectedReleaseId,omitempty"`
	ResolvedReleaseID *int64              `json:"ResolvedReleaseId,omitempty"`
	VerifiedReleaseID *int64              `json:"VerifiedReleaseId,omitempty"`
	CreationDate      *apiTime            `json:"CreationDate,omitempty"`
	StartDate         *apiTime            `json:"StartDate,omitempty"`
	ClosedDate        *apiTime            `json:"ClosedDate,omitempty"`
	LastUpdateDate    *apiTime            `json:"LastUpdateDate,omitempty"`
	ConcurrencyDate   *apiTime            `json:"ConcurrencyDate,omitempty"`
	CustomProperties  []apiCustomProperty `json:"CustomProperties,omitempty"`
}

func (a apiIncident) toModel() model.Incident {
	inc := model.Incident{
		ProjectID:         a.ProjectID,
		Name:              a.Name,
		Description:       a.Description,
		TypeID:            a.IncidentTypeID,
		PriorityID:        a.PriorityID,
		SeverityID:        a.SeverityID,
		OpenerID:          a.OpenerID,
		OwnerID:           a.OwnerID,
		DetectedReleaseID: a.DetectedReleaseID,
		ResolvedReleaseID: a.ResolvedReleaseID,
		VerifiedReleaseID: a.VerifiedReleaseID,
		CreationDate:      tsOrZero(a.CreationDate),
		StartDate:         tsPtr(a.StartDate),
		ClosedDate:        tsPtr(a.ClosedDate),
		LastUpdateDate:    tsOrZero(a.LastUpdateDate),
		ConcurrencyDate:   tsOrZero(a.ConcurrencyDate),
	}
	if a.IncidentID != nil {
		inc.ID = *a.IncidentID
	}
	if a.IncidentStatusID != nil {
		inc.StatusID = *a.IncidentStatusID
	}
	if len(a.CustomProperties) > 0 {
		inc.Properties = make(map[int64]model.PropertyValue, len(a.CustomProperties))
		for _, p := range a.CustomProperties {
			v := p.toModel()
			inc.Properties[v.PropertyID] = v
		}
	}
	return inc
}

func incidentToAPI(inc model.Incident) apiIncident {
	a := apiIncident{
		ProjectID:         inc.ProjectID,
		Name:              inc.Name,
		Description:       inc.Description,
		IncidentTypeID:    inc.TypeID,
		PriorityID:        inc.PriorityID,
		SeverityID:        inc.SeverityID,
		OpenerID:          inc.OpenerID,
		OwnerID:           inc.OwnerID,
		DetectedReleaseID: inc.DetectedReleaseID,
		ResolvedReleaseID: inc.ResolvedReleaseID,
		VerifiedReleaseID: inc.VerifiedReleaseID,
		CreationDate:      wcf(inc.CreationDate),
		StartDate:         wcfPtr(inc.StartDate),
		ClosedDate:        wcfPtr(inc.ClosedDate),
		LastUpdateDate:    wcf(inc.LastUpdateDate),
		ConcurrencyDate:   wcf(inc.ConcurrencyDate),
	}
	if inc.ID != 0 {
		id := inc.ID
		a.IncidentID = &id
	}
	if inc.StatusID != 0 {
		status := inc.StatusID
		a.IncidentStatusID = &status
	}
	for _, v := range inc.Properties {
		a.CustomProperties = append(a.CustomProperties, propertyToAPI(v))
	}
	return a
}

// Custom-property type ids from Spira's property definitions.
const (
	propertyTypeText    int64 = 1
	propertyTypeInteger int64 = 2
	propertyTypeDecimal int64 = 3
	propertyTypeBoolean int64 = 4
	propertyTypeDate    int64 = 5
	propertyTypeList    int64 = 6
	propertyTypeMulti   int64 = 7
	propertyTypeUser    int64 = 8
)

type apiPropertyDefinition struct {
	CustomPropertyID     int64 `json:"CustomPropertyId"`
	CustomPropertyTypeID int64 `json:"CustomPropertyTypeId"`
}

type apiCustomProperty struct {
	PropertyNumber   int64                  `json:"PropertyNumber,omitempty"`
	Definition       *apiPropertyDefinition `json:"Definition,omitempty"`
	StringValue      *string                `json:"StringValue,omitempty"`
	IntegerValue     *int64                 `json:"IntegerValue,omitempty"`
	BooleanValue     *bool                  `json:"BooleanValue,omitempty"`
	DecimalValue     *float64               `json:"DecimalValue,omitempty"`
	DateTimeValue    *apiTime               `json:"DateTimeValue,omitempty"`
	IntegerListValue []int64                `json:"IntegerListValue,omitempty"`
}

// toModel discriminates by the definition's type id when present, falling
// back to whichever value field is populated. Integer-backed kinds (list and
// user selections) are indistinguishable without the definition and default
// to plain integers.
func (a apiCustomProperty) toModel() model.PropertyValue {
	v := model.PropertyValue{}
	if a.Definition != nil {
		v.PropertyID = a.Definition.CustomPropertyID
	} else {
		v.PropertyID = a.PropertyNumber
	}

	typeID := int64(0)
	if a.Definition != nil {
		typeID = a.Definition.CustomPropertyTypeID
	}

	switch {
	case a.StringValue != nil:
		v.Kind = model.PropertyText
		v.Text = *a.StringValue
	case a.BooleanValue != nil:
		v.Kind = model.PropertyBoolean
		v.Boolean = *a.BooleanValue
	case a.DecimalValue != nil:
		v.Kind = model.PropertyDecimal
		v.Decimal = *a.DecimalValue
	case a.DateTimeValue != nil:
		v.Kind = model.PropertyDate
		v.Date = tsOrZero(a.DateTimeValue)
	case len(a.IntegerListValue) > 0:
		v.Kind = model.PropertyMultiSelect
		v.OptionIDs = append([]int64(nil), a.IntegerListValue...)
	case a.IntegerValue != nil:
		switch typeID {
		case propertyTypeList:
			v.Kind = model.PropertySingleSelect
			v.OptionID = *a.IntegerValue
		case propertyTypeUser:
			v.Kind = model.PropertyUser
			v.UserID = *a.IntegerValue
		default:
			v.Kind = model.PropertyInteger
			v.Integer = *a.IntegerValue
		}
	}
	return v
}

func propertyToAPI(v model.PropertyValue) apiCustomProperty {
	a := apiCustomProperty{PropertyNumber: v.PropertyID}
	switch v.Kind {
	case model.PropertyText:
		s := v.Text
		a.StringValue = &s
		a.Definition = &apiPropertyDefinition{CustomPropertyID: v.PropertyID, CustomPropertyTypeID: propertyTypeText}
	case model.PropertyInteger:
		i := v.Integer
		a.IntegerValue = &i
		a.Definition = &apiPropertyDefinition{CustomPropertyID: v.PropertyID, CustomPropertyTypeID: propertyTypeInteger}
	case model.PropertyDecimal:
		d := v.Decimal
		a.DecimalValue = &d
		a.Definition = &apiPropertyDefinition{CustomPropertyID: v.PropertyID, CustomPropertyTypeID: propertyTypeDecimal}
	case model.PropertyBoolean:
		b := v.Boolean
		a.BooleanValue = &b
		a.Definition = &apiPropertyDefinition{CustomPropertyID: v.PropertyID, CustomPropertyTypeID: propertyTypeBoolean}
	case model.PropertyDate:
		a.DateTimeValue = wcf(v.Date)
		a.Definition = &apiPropertyDefinition{CustomPropertyID: v.PropertyID, CustomPropertyTypeID: propertyTypeDate}
	case model.PropertySingleSelect:
		i := v.OptionID
		a.IntegerValue = &i
		a.Definition = &apiPropertyDefinition{CustomPropertyID: v.PropertyID, CustomPropertyTypeID: propertyTypeList}
	case model.PropertyMultiSelect:
		a.IntegerListValue = append([]int64(nil), v.OptionIDs...)
		a.Definition = &apiPropertyDefinition{CustomPropertyID: v.PropertyID, CustomPropertyTypeID: propertyTypeMulti}
	case model.PropertyUser:
		i := v.UserID
		a.IntegerValue = &i
		a.Definition = &apiPropertyDefinition{CustomPropertyID: v.PropertyID, CustomPropertyTypeID: propertyTypeUser}
	}
	return a
}

type apiComment struct {
	CommentID    *int64   `json:"CommentId,omitempty"`
	ArtifactID   int64    `json:"ArtifactId"`
	UserID       *int64   `json:"UserId,omitempty"`
	UserName     string   `json:"UserName,omitempty"`
	Text         string   `json:"Text"`
	CreationDate *apiTime `json:"CreationDate,omitempty"`
}

func (a apiComment) toModel() model.Comment {
	c := model.Comment{
		IncidentID:   a.ArtifactID,
		CreatorID:    a.UserID,
		CreatorName:  a.UserName,
		Text:         a.Text,
		CreationDate: tsOrZero(a.CreationDate),
	}
	if a.CommentID != nil {
		c.ID = *a.CommentID
	}
	return c
}

func commentToAPI(c model.Comment) apiComment {
	return apiComment{
		ArtifactID:   c.IncidentID,
		UserID:       c.CreatorID,
		Text:         c.Text,
		CreationDate: wcf(c.CreationDate),
	}
}

type apiRelease struct {
	ReleaseID       *int64   `json:"ReleaseId"`
	ProjectID       int64    `json:"ProjectId,omitempty"`
	Name            string   `json:"Name"`
	VersionNumber   string   `json:"VersionNumber"`
	Description     string   `json:"Description,omitempty"`
	ReleaseStatusID int64    `json:"ReleaseStatusId"`
	ReleaseTypeID   int64    `json:"ReleaseTypeId,omitempty"`
	StartDate       *apiTime `json:"StartDate,omitempty"`
	EndDate         *apiTime `json:"EndDate,omitempty"`
	CreationDate    *apiTime `json:"CreationDate,omitempty"`
	LastUpdateDate  *apiTime `json:"LastUpdateDate,omitempty"`
}

func (a apiRelease) toModel() model.Release {
	r := model.Release{
		ProjectID:      a.ProjectID,
		Name:           a.Name,
		VersionNumber:  a.VersionNumber,
		Description:    a.Description,
		StatusID:       a.ReleaseStatusID,
		StartDate:      tsOrZero(a.StartDate),
		EndDate:        tsOrZero(a.EndDate),
		CreationDate:   tsOrZero(a.CreationDate),
		LastUpdateDate: tsOrZero(a.LastUpdateDate),
	}
	if a.ReleaseID != nil {
		r.ID = *a.ReleaseID
	}
	return r
}

func releaseToAPI(r model.Release) apiRelease {
	a := apiRelease{
		Name:            r.Name,
		VersionNumber:   r.VersionNumber,
		Description:     r.Description,
		ReleaseStatusID: r.StatusID,
		ReleaseTypeID:   1, // major release
		StartDate:       wcf(r.StartDate),
		EndDate:         wcf(r.EndDate),
	}
	if r.ID != 0 {
		id := r.ID
		a.ReleaseID = &id
	}
	return a
}

type apiDataMapping struct {
	ProjectID   *int64 `json:"ProjectId,omitempty"`
	InternalID  int64  `json:"InternalId"`
	ExternalKey string `json:"ExternalKey"`
	Primary     bool   `json:"Primary"`
}

func (a apiDataMapping) toArtifactMapping(projectID int64) model.ArtifactMapping {
	m := model.ArtifactMapping{
		ProjectID:   projectID,
		InternalID:  a.InternalID,
		ExternalKey: a.ExternalKey,
		Primary:     a.Primary,
	}
	if a.ProjectID != nil {
		m.ProjectID = *a.ProjectID
	}
	return m
}

func (a apiDataMapping) toValueMapping(projectID int64) model.ValueMapping {
	m := model.ValueMapping{
		ProjectID:     projectID,
		InternalID:    a.InternalID,
		ExternalValue: a.ExternalKey,
	}
	if a.ProjectID != nil {
		m.ProjectID = *a.ProjectID
	}
	return m
}

func artifactMappingToAPI(m model.ArtifactMapping) apiDataMapping {
	pid := m.ProjectID
	return apiDataMapping{
		ProjectID:   &pid,
		InternalID:  m.InternalID,
		ExternalKey: m.ExternalKey,
		Primary:     m.Primary,
	}
}

type apiAttachedArtifact struct {
	ArtifactID     int64 `json:"ArtifactId"`
	ArtifactTypeID int64 `json:"ArtifactTypeId"`
}

type apiDocument struct {
	AttachmentID      *int64                `json:"AttachmentId,omitempty"`
	AttachmentTypeID  int64                 `json:"AttachmentTypeId"`
	FilenameOrURL     string                `json:"FilenameOrUrl"`
	Description       string                `json:"Description,omitempty"`
	AttachedArtifacts []apiAttachedArtifact `json:"AttachedArtifacts"`
}
