package identity

import (
	"fmt"
	"io"
	"strings"
)

const guestName = "Guest"

// User is the profile record returned by the API on login, register and
// user-info. Fields the client does not know about are kept verbatim.
type User map[string]any

// Clone returns a shallow copy.
func (u User) Clone() User {
	if u == nil {
		return nil
	}
	out := make(User, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

// Merge returns a copy of u overlaid with partial. Keys absent from partial
// keep their previous value.
func (u User) Merge(partial User) User {
	out := u.Clone()
	if out == nil {
		out = make(User, len(partial))
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// WithDisplayName sets the derived "name" field used by page headers.
func (u User) WithDisplayName() User {
	out := u.Clone()
	if out == nil {
		out = User{}
	}
	name := out.FirstName()
	if name == "" {
		name = guestName
	}
	out["name"] = name
	return out
}

// ID returns the user identifier, accepting the spellings the API has used.
func (u User) ID() string {
	for _, key := range []string{"id", "_id", "user_id"} {
		if v := u.String(key); v != "" {
			return v
		}
	}
	return ""
}

func (u User) FirstName() string { return u.String("firstName") }
func (u User) LastName() string  { return u.String("lastName") }
func (u User) Email() string     { return u.String("email") }
func (u User) Mobile() string    { return u.String("mobile") }
func (u User) Address() string   { return u.String("address") }
func (u User) Image() string     { return u.String("image") }

// FullName joins first and last name, falling back to the derived name.
func (u User) FullName() string {
	first, last := u.FirstName(), u.LastName()
	if first != "" && last != "" {
		return first + " " + last
	}
	return u.String("name")
}

// String reads key as text. Numbers are formatted so numeric ids still work.
func (u User) String(key string) string {
	switch v := u[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// File is an upload attached to a multipart form.
type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Profile is the complete-profile form. Empty fields are not sent.
type Profile struct {
	FirstName   string
	LastName    string
	Username    string
	DateOfBirth string
	Email       string
	Mobile      string
	Address     string
	Image       *File
}

// Field is one name/value pair of a form, kept in submission order.
type Field struct {
	Name  string
	Value string
}

// Fields lists the non-empty text fields in the order the API documents them.
func (p Profile) Fields() []Field {
	all := []Field{
		{Name: "firstName", Value: p.FirstName},
		{Name: "lastName", Value: p.LastName},
		{Name: "username", Value: p.Username},
		{Name: "dateOfBirth", Value: p.DateOfBirth},
		{Name: "email", Value: p.Email},
		{Name: "mobile", Value: p.Mobile},
		{Name: "address", Value: p.Address},
	}
	out := make([]Field, 0, len(all))
	for _, f := range all {
		if strings.TrimSpace(f.Value) != "" {
			out = append(out, f)
		}
	}
	return out
}

// Registration is the sign-up payload.
type Registration struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email"`
	Mobile          string `json:"mobile,omitempty"`
	Address         string `json:"address,omitempty"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
}
