package handlers

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/SteamVC/pairchat/internal/roomstore"
)

// Validator は受信したペイロードの構造体タグによる検証を行います
type Validator struct {
	cli *validator.Validate
}

// ValidationError は1つのフィールドの検証エラーです
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string { return e.Field + ": " + e.Message }

// NewValidator は新しい Validator を作成します
func NewValidator() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	_ = cli.RegisterValidation("roomcode", func(fl validator.FieldLevel) bool {
		return roomstore.ValidCode(fl.Field().String())
	})
	return &Validator{cli: cli}
}

// ValidateStruct は構造体を検証し、エラーの一覧を返します
func (v *Validator) ValidateStruct(s any) []ValidationError {
	err := v.cli.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Field: "", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.StructField(),
			Message: fmt.Sprintf("failed on %q", fe.Tag()),
		})
	}
	return out
}

func joinErrors(errs []ValidationError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// validateRoomCode はルームコードのバリデーションを行います
func validateRoomCode(code string) error {
	if !roomstore.ValidCode(normalizeID(code)) {
		return fmt.Errorf("room code must be 6 digits")
	}
	return nil
}
