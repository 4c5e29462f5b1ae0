package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"ovotrack/server/internal/models"
)

var validate = validator.New()

// checkInput runs struct tag validation and turns failures into a ValidationError
func checkInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationError("invalid input: %v", err)
	}
	fields := make(map[string]string, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
		names = append(names, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	sort.Strings(names)
	e := ValidationError("invalid fields: %s", strings.Join(names, ", "))
	e.Fields = fields
	return e
}

// requireRole refuses the effect when the actor lacks the role
func requireRole(actor models.Actor, role models.Role, action string) error {
	if !actor.HasRole(role) {
		return Unauthorized("%s requires role %s", action, role)
	}
	return nil
}
