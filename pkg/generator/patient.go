// Package generator produces synthetic patients and IMU gait recordings for demos and load tests.
package generator

import (
	"github.com/brianvoe/gofakeit/v7"
)

// Patient holds the fields needed to register a synthetic patient.
type Patient struct {
	Name  string `fake:"{name}" json:"name"`
	Email string `fake:"{email}" json:"email"`
	Phone string `fake:"{phone}" json:"phone"`
	Age   int    `fake:"{number:18,95}" json:"age"`
}

func NewPatient() *Patient {
	var p Patient
	if err := gofakeit.Struct(&p); err != nil {
		return nil
	}
	return &p
}
