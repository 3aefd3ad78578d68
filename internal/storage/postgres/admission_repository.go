package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/hms/internal/domain"
)

const admissionColumns = `
	id, admission_number, patient, hospital_id, hospital_name, department_id, doctor_id, seat_number,
	status, date_admitted, date_discharged,
	service_charge, seat_rent, ot_charge, doctor_charge, surgeon_charge,
	anesthesia_fee, assistant_doctor_fee, medicine_charge, other_charges, admission_fee,
	discount_type, discount_value, paid_amount,
	total_amount, discount_amount, grand_total, due_amount,
	version, created_at, updated_at`

// patientRecord JSONB-представление снимка пациента.
type patientRecord struct {
	ID          string     `json:"id,omitempty"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Email       string     `json:"email,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
}

func toPatientRecord(p domain.PatientInfo) patientRecord {
	return patientRecord(p)
}

func (p patientRecord) toDomain() domain.PatientInfo {
	return domain.PatientInfo(p)
}

type admissionRepository struct {
	db *sql.DB
}

// NewAdmissionRepository создаёт PostgreSQL-реализацию AdmissionRepository.
func NewAdmissionRepository(store *Store) domain.AdmissionRepository {
	return &admissionRepository{db: store.DB()}
}

func (r *admissionRepository) Create(ctx context.Context, a domain.Admission) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	patient, err := json.Marshal(toPatientRecord(a.Patient))
	if err != nil {
		return fmt.Errorf("encode patient: %w", err)
	}

	args := []any{a.ID, a.AdmissionNumber, string(patient), a.Patient.ID}
	args = append(args, admissionMutableArgs(a)...)
	args = append(args, a.DateAdmitted, a.Version, a.CreatedAt)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO admissions (
			id, admission_number, patient, patient_id,
			hospital_id, hospital_name, department_id, doctor_id, seat_number,
			status, date_discharged,
			service_charge, seat_rent, ot_charge, doctor_charge, surgeon_charge,
			anesthesia_fee, assistant_doctor_fee, medicine_charge, other_charges, admission_fee,
			discount_type, discount_value, paid_amount,
			total_amount, discount_amount, grand_total, due_amount,
			updated_at,
			date_admitted, version, created_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
			$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32
		)
	`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAdmissionExists
		}
		return fmt.Errorf("insert admission: %w", err)
	}
	return nil
}

// admissionMutableArgs значения колонок, которые меняются при Save, в порядке INSERT/UPDATE.
func admissionMutableArgs(a domain.Admission) []any {
	var discharged sql.NullTime
	if a.DateDischarged != nil {
		discharged = sql.NullTime{Time: *a.DateDischarged, Valid: true}
	}
	discountType := a.Discount.Type
	if discountType == "" {
		discountType = domain.DiscountNone
	}
	c := a.Charges
	return []any{
		a.HospitalID, a.HospitalName, a.DepartmentID, a.DoctorID, a.SeatNumber,
		string(a.Status), discharged,
		c.ServiceCharge, c.SeatRent, c.OTCharge, c.DoctorCharge, c.SurgeonCharge,
		c.AnesthesiaFee, c.AssistantDoctorFee, c.MedicineCharge, c.OtherCharges, c.AdmissionFee,
		string(discountType), a.Discount.Value, a.PaidAmount,
		a.Totals.TotalAmount, a.Totals.DiscountAmount, a.Totals.GrandTotal, a.Totals.DueAmount,
		a.UpdatedAt,
	}
}

func (r *admissionRepository) Get(ctx context.Context, id string) (domain.Admission, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+admissionColumns+` FROM admissions WHERE id = $1`, id)
	a, err := scanAdmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Admission{}, domain.ErrAdmissionNotFound
		}
		return domain.Admission{}, fmt.Errorf("select admission: %w", err)
	}
	return a, nil
}

func (r *admissionRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Admission, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		where = append(where, "patient_id = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + admissionColumns + ` FROM admissions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list admissions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Admission, 0)
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admission row: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admission rows: %w", err)
	}
	return result, nil
}

func (r *admissionRepository) Save(ctx context.Context, a domain.Admission) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	patient, err := json.Marshal(toPatientRecord(a.Patient))
	if err != nil {
		return fmt.Errorf("encode patient: %w", err)
	}

	args := admissionMutableArgs(a)
	args = append(args, string(patient), a.Patient.ID, a.ID, a.Version)

	res, err := r.db.ExecContext(ctx, `
		UPDATE admissions
		SET hospital_id = $1,
		    hospital_name = $2,
		    department_id = $3,
		    doctor_id = $4,
		    seat_number = $5,
		    status = $6,
		    date_discharged = $7,
		    service_charge = $8,
		    seat_rent = $9,
		    ot_charge = $10,
		    doctor_charge = $11,
		    surgeon_charge = $12,
		    anesthesia_fee = $13,
		    assistant_doctor_fee = $14,
		    medicine_charge = $15,
		    other_charges = $16,
		    admission_fee = $17,
		    discount_type = $18,
		    discount_value = $19,
		    paid_amount = $20,
		    total_amount = $21,
		    discount_amount = $22,
		    grand_total = $23,
		    due_amount = $24,
		    updated_at = $25,
		    patient = $26,
		    patient_id = $27,
		    version = version + 1
		WHERE id = $28
		  AND version = $29
	`, args...)
	if err != nil {
		return fmt.Errorf("update admission: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM admissions WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check admission exists: %w", err)
	}
	if !exists {
		return domain.ErrAdmissionNotFound
	}
	return domain.ErrAdmissionVersionConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdmission(row rowScanner) (domain.Admission, error) {
	var (
		a            domain.Admission
		patientRaw   []byte
		status       string
		discharged   sql.NullTime
		discountType string
		discountVal  decimal.NullDecimal
	)
	c := &a.Charges
	err := row.Scan(
		&a.ID, &a.AdmissionNumber, &patientRaw, &a.HospitalID, &a.HospitalName, &a.DepartmentID, &a.DoctorID, &a.SeatNumber,
		&status, &a.DateAdmitted, &discharged,
		&c.ServiceCharge, &c.SeatRent, &c.OTCharge, &c.DoctorCharge, &c.SurgeonCharge,
		&c.AnesthesiaFee, &c.AssistantDoctorFee, &c.MedicineCharge, &c.OtherCharges, &c.AdmissionFee,
		&discountType, &discountVal, &a.PaidAmount,
		&a.Totals.TotalAmount, &a.Totals.DiscountAmount, &a.Totals.GrandTotal, &a.Totals.DueAmount,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Admission{}, err
	}

	if len(patientRaw) > 0 {
		var p patientRecord
		if err := json.Unmarshal(patientRaw, &p); err != nil {
			return domain.Admission{}, fmt.Errorf("decode patient: %w", err)
		}
		a.Patient = p.toDomain()
	}
	a.Status = domain.AdmissionStatus(status)
	if discharged.Valid {
		t := discharged.Time
		a.DateDischarged = &t
	}
	a.Discount = domain.DiscountSpec{Type: domain.DiscountType(discountType), Value: discountVal}
	return a, nil
}

var _ domain.AdmissionRepository = (*admissionRepository)(nil)
