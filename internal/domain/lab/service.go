package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/account"
	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/domain/facility"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/notification"
	"github.com/lims/lims/internal/platform/validate"
)

// Catalog resolves ordered profiles and investigations.
type Catalog interface {
	ExpandProfiles(ctx context.Context, profileIDs, investigationIDs []uuid.UUID) ([]*catalog.Investigation, error)
	Investigations(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*catalog.Investigation, error)
}

type HospitalLookup interface {
	GetHospital(ctx context.Context, id uuid.UUID) (*facility.Hospital, error)
}

// Notifier delivers patient notices.
type Notifier interface {
	SendTemplate(ctx context.Context, templateID, recipient string, data map[string]string) (*notification.Notification, error)
}

// ScopeResolver returns the hospitals a user may read.
type ScopeResolver interface {
	HospitalScope(ctx context.Context, userID uuid.UUID, role string) (account.Scope, error)
}

// TransitionRecorder counts sample status changes.
type TransitionRecorder interface {
	SampleTransition(to string)
}

type Service struct {
	patients  PatientRepository
	samples   SampleRepository
	results   ResultRepository
	catalog   Catalog
	hospitals HospitalLookup

	notifier Notifier
	metrics  TransitionRecorder
	scopes   ScopeResolver
	logger   zerolog.Logger

	inTx    func(ctx context.Context, fn func(ctx context.Context) error) error
	now     func() time.Time
	barcode func(hospitalCode string, day time.Time) (string, error)
}

func NewService(patients PatientRepository, samples SampleRepository, results ResultRepository, cat Catalog, hospitals HospitalLookup) *Service {
	return &Service{
		patients:  patients,
		samples:   samples,
		results:   results,
		catalog:   cat,
		hospitals: hospitals,
		logger:    zerolog.Nop(),
		inTx:      db.InTx,
		now:       time.Now,
		barcode:   randomBarcode,
	}
}

// SetNotifier enables patient SMS on approval and rejection, and the report
// ready email to the hospital.
func (s *Service) SetNotifier(n Notifier, logger zerolog.Logger) {
	s.notifier = n
	s.logger = logger
}

func (s *Service) SetMetrics(m TransitionRecorder) { s.metrics = m }

// SetScopes limits patient and sample reads to the hospitals the caller is
// mapped to. Admins and unauthenticated background callers read everything.
func (s *Service) SetScopes(r ScopeResolver) { s.scopes = r }

// readScope returns nil when the caller may read every hospital.
func (s *Service) readScope(ctx context.Context) (*account.Scope, error) {
	if s.scopes == nil {
		return nil, nil
	}
	userID := auth.UserUUIDFromContext(ctx)
	roles := auth.RolesFromContext(ctx)
	if userID == uuid.Nil || len(roles) == 0 {
		return nil, nil
	}
	for _, r := range roles {
		if r == auth.RoleAdmin {
			return nil, nil
		}
	}
	scope, err := s.scopes.HospitalScope(ctx, userID, roles[0])
	if err != nil {
		return nil, err
	}
	if scope.All {
		return nil, nil
	}
	return &scope, nil
}

// visible hides records of hospitals outside the caller's scope.
func (s *Service) visible(ctx context.Context, hospitalID uuid.UUID, what string) error {
	scope, err := s.readScope(ctx)
	if err != nil {
		return err
	}
	if scope != nil && !scope.Allows(hospitalID) {
		return apperr.NotFound(what)
	}
	return nil
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := s.checkPatient(ctx, p); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.visible(ctx, p.HospitalID, "patient"); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePatient edits demographics. A patient stays with the hospital that
// registered them.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	existing, err := s.patients.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.HospitalID = existing.HospitalID
	p.normalize()
	if err := p.validate().Err(); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) ListPatients(ctx context.Context, hospitalID *uuid.UUID, q string, limit, offset int) ([]*Patient, int, error) {
	scope, err := s.readScope(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.patients.List(ctx, hospitalID, scope, q, limit, offset)
}

func (s *Service) checkPatient(ctx context.Context, p *Patient) error {
	p.normalize()
	errs := p.validate()
	if p.HospitalID != uuid.Nil {
		if _, err := s.activeHospital(ctx, p.HospitalID); err != nil {
			var verr *validate.ValidationError
			if !errors.As(err, &verr) {
				return err
			}
			for f, msg := range verr.Fields {
				errs.Add(f, msg)
			}
		}
	}
	return errs.Err()
}

func (s *Service) activeHospital(ctx context.Context, id uuid.UUID) (*facility.Hospital, error) {
	h, err := s.hospitals.GetHospital(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, validate.Field("hospital_id", "unknown hospital")
	}
	if err != nil {
		return nil, err
	}
	if !h.Active {
		return nil, validate.Field("hospital_id", "hospital is inactive")
	}
	return h, nil
}

// -- Registration --

// RegisterSample orders a sample at reception. The patient is created when
// req carries one instead of a patient_id. Profiles are expanded into
// investigations and the sample is routed to the hospital's nodal center.
func (s *Service) RegisterSample(ctx context.Context, req *RegisterRequest) (*Sample, error) {
	req.Priority = strings.ToLower(strings.TrimSpace(req.Priority))
	if req.Priority == "" {
		req.Priority = PriorityRoutine
	}
	req.Barcode = strings.ToUpper(strings.TrimSpace(req.Barcode))

	errs := validate.Errors{}
	errs.Check(req.HospitalID != uuid.Nil, "hospital_id", "is required")
	errs.Check(req.Priority == PriorityRoutine || req.Priority == PriorityUrgent, "priority", "must be routine or urgent")
	errs.Optional("barcode", req.Barcode, validate.Barcode, "must be 4-40 upper-case letters, digits, - or _")
	errs.Check(len(req.ProfileIDs)+len(req.InvestigationIDs) > 0, "investigation_ids", "order at least one profile or investigation")
	errs.Check((req.PatientID == nil) != (req.Patient == nil), "patient", "provide either patient_id or patient")
	if err := errs.Err(); err != nil {
		return nil, err
	}

	actor := auth.UserUUIDFromContext(ctx)
	var sample *Sample
	err := s.inTx(ctx, func(ctx context.Context) error {
		hospital, err := s.activeHospital(ctx, req.HospitalID)
		if err != nil {
			return err
		}

		patient, err := s.orderPatient(ctx, req)
		if err != nil {
			return err
		}

		invs, err := s.catalog.ExpandProfiles(ctx, req.ProfileIDs, req.InvestigationIDs)
		if err != nil {
			return err
		}

		barcode, err := s.assignBarcode(ctx, req.Barcode, hospital.Code)
		if err != nil {
			return err
		}

		sample = &Sample{
			Barcode:          barcode,
			PatientID:        patient.ID,
			HospitalID:       hospital.ID,
			NodalID:          hospital.NodalID,
			Status:           StatusRegistered,
			Priority:         req.Priority,
			ProfileIDs:       uniqueIDs(req.ProfileIDs),
			InvestigationIDs: make([]uuid.UUID, len(invs)),
			CreatedBy:        actor,
		}
		for i, inv := range invs {
			sample.InvestigationIDs[i] = inv.ID
		}
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			sample.Notes = &notes
		}
		if err := s.samples.Create(ctx, sample); err != nil {
			return err
		}
		return s.samples.AddEvent(ctx, &Event{SampleID: sample.ID, To: StatusRegistered, Actor: actor})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(StatusRegistered)
	return sample, nil
}

func (s *Service) orderPatient(ctx context.Context, req *RegisterRequest) (*Patient, error) {
	if req.PatientID != nil {
		p, err := s.patients.GetByID(ctx, *req.PatientID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, validate.Field("patient_id", "unknown patient")
		}
		if err != nil {
			return nil, err
		}
		if p.HospitalID != req.HospitalID {
			return nil, validate.Field("patient_id", "patient is registered at another hospital")
		}
		return p, nil
	}

	p := *req.Patient
	p.HospitalID = req.HospitalID
	p.normalize()
	if err := p.validate().Err(); err != nil {
		return nil, err
	}
	if err := s.patients.Create(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

const barcodeAttempts = 5

func (s *Service) assignBarcode(ctx context.Context, requested, hospitalCode string) (string, error) {
	if requested != "" {
		if err := s.barcodeFree(ctx, requested); err != nil {
			return "", err
		}
		return requested, nil
	}
	for i := 0; i < barcodeAttempts; i++ {
		code, err := s.barcode(hospitalCode, s.now())
		if err != nil {
			return "", err
		}
		err = s.barcodeFree(ctx, code)
		if errors.Is(err, apperr.ErrConflict) {
			continue
		}
		return code, err
	}
	return "", fmt.Errorf("could not allocate a free barcode for %s after %d attempts", hospitalCode, barcodeAttempts)
}

func (s *Service) barcodeFree(ctx context.Context, code string) error {
	_, err := s.samples.GetByBarcode(ctx, code)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	return apperr.Conflict("barcode %s already exists", code)
}

// -- Workflow --

// transition moves sample id to status to, applying change to the loaded
// sample first. When from is set the sample must currently be in it. The
// write is guarded on the status that was read.
func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to Status, reason string, change func(*Sample)) (*Sample, error) {
	var sample *Sample
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		sample, err = s.move(ctx, id, from, to, reason, change)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(to)
	return sample, nil
}

func (s *Service) move(ctx context.Context, id uuid.UUID, from, to Status, reason string, change func(*Sample)) (*Sample, error) {
	sample, err := s.samples.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	current := sample.Status
	if (from != "" && current != from) || !CanTransition(current, to) {
		return nil, fmt.Errorf("sample %s cannot move from %s to %s: %w", sample.Barcode, current, to, apperr.ErrInvalidTransition)
	}
	sample.Status = to
	if change != nil {
		change(sample)
	}
	if err := s.samples.UpdateStatus(ctx, sample, current); err != nil {
		return nil, err
	}
	ev := &Event{SampleID: sample.ID, From: current, To: to, Actor: auth.UserUUIDFromContext(ctx), Reason: reason}
	if err := s.samples.AddEvent(ctx, ev); err != nil {
		return nil, err
	}
	return sample, nil
}

func (s *Service) recordTransition(to Status) {
	if s.metrics != nil {
		s.metrics.SampleTransition(string(to))
	}
}

// Collect marks a registered sample as drawn by the phlebotomist.
func (s *Service) Collect(ctx context.Context, id uuid.UUID, notes string) (*Sample, error) {
	return s.transition(ctx, id, StatusRegistered, StatusCollected, "", s.collected(ctx, notes))
}

// Recollect records a fresh draw for a rejected sample. Results entered on
// the rejected specimen are discarded with it.
func (s *Service) Recollect(ctx context.Context, id uuid.UUID, notes string) (*Sample, error) {
	collect := s.collected(ctx, notes)
	var sample *Sample
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		sample, err = s.move(ctx, id, StatusRejected, StatusCollected, "recollection", func(smp *Sample) {
			collect(smp)
			smp.RejectReason = nil
			smp.RejectedAt = nil
			smp.ReceivedBy = nil
			smp.ReceivedAt = nil
		})
		if err != nil {
			return err
		}
		if err := s.results.DeleteBySample(ctx, sample.ID); err != nil {
			return fmt.Errorf("discard results of rejected specimen: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(StatusCollected)
	return sample, nil
}

func (s *Service) collected(ctx context.Context, notes string) func(*Sample) {
	actor := auth.UserUUIDFromContext(ctx)
	now := s.now()
	notes = strings.TrimSpace(notes)
	return func(smp *Sample) {
		smp.CollectedBy = &actor
		smp.CollectedAt = &now
		if notes != "" {
			smp.Notes = &notes
		}
	}
}

// Receive accepts a collected sample at the nodal lab.
func (s *Service) Receive(ctx context.Context, id uuid.UUID) (*Sample, error) {
	actor := auth.UserUUIDFromContext(ctx)
	now := s.now()
	return s.transition(ctx, id, StatusCollected, StatusReceived, "", func(smp *Sample) {
		smp.ReceivedBy = &actor
		smp.ReceivedAt = &now
	})
}

// Reject turns a sample back with a reason and notifies the patient.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Sample, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validate.Field("reason", "is required")
	}
	now := s.now()
	sample, err := s.transition(ctx, id, "", StatusRejected, reason, func(smp *Sample) {
		smp.RejectReason = &reason
		smp.RejectedAt = &now
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, sample, notification.TemplateSampleRejected, "", map[string]string{"reason": reason})
	return sample, nil
}

// Cancel withdraws a sample that was never collected.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Sample, error) {
	return s.transition(ctx, id, "", StatusCancelled, strings.TrimSpace(reason), nil)
}

// Rerun sends a resulted sample back for fresh result entry.
func (s *Service) Rerun(ctx context.Context, id uuid.UUID, reason string) (*Sample, error) {
	return s.transition(ctx, id, StatusResulted, StatusReceived, strings.TrimSpace(reason), func(smp *Sample) {
		smp.ResultedAt = nil
	})
}

// Approve signs off a resulted sample and tells the patient the report is
// ready.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Sample, error) {
	actor := auth.UserUUIDFromContext(ctx)
	now := s.now()
	sample, err := s.transition(ctx, id, "", StatusApproved, "", func(smp *Sample) {
		smp.ApprovedBy = &actor
		smp.ApprovedAt = &now
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, sample, notification.TemplateReportReady, notification.TemplateReportReadyEmail, nil)
	return sample, nil
}

// EnterResults stores values for a received sample. Values are flagged
// against each investigation's reference range. Once every ordered
// investigation has a value the sample moves to resulted.
func (s *Service) EnterResults(ctx context.Context, id uuid.UUID, inputs []ResultInput) (*Sample, []*Result, error) {
	if len(inputs) == 0 {
		return nil, nil, validate.Field("results", "at least one result is required")
	}
	actor := auth.UserUUIDFromContext(ctx)

	var (
		sample   *Sample
		results  []*Result
		resulted bool
	)
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		sample, err = s.samples.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if sample.Status != StatusReceived {
			return fmt.Errorf("results can only be entered for received samples, %s is %s: %w",
				sample.Barcode, sample.Status, apperr.ErrInvalidTransition)
		}

		invs, err := s.catalog.Investigations(ctx, sample.InvestigationIDs)
		if err != nil {
			return err
		}

		errs := validate.Errors{}
		seen := make(map[uuid.UUID]bool, len(inputs))
		for i, in := range inputs {
			field := fmt.Sprintf("results[%d]", i)
			value := strings.TrimSpace(in.Value)
			switch {
			case !sample.Ordered(in.InvestigationID):
				errs.Add(field+".investigation_id", "not ordered on this sample")
			case seen[in.InvestigationID]:
				errs.Add(field+".investigation_id", "entered twice")
			case value == "":
				errs.Add(field+".value", "is required")
			case len(value) > 200:
				errs.Add(field+".value", "must be at most 200 characters")
			}
			seen[in.InvestigationID] = true
		}
		if err := errs.Err(); err != nil {
			return err
		}

		for _, in := range inputs {
			r := &Result{
				SampleID:        sample.ID,
				InvestigationID: in.InvestigationID,
				Value:           strings.TrimSpace(in.Value),
				Remarks:         strings.TrimSpace(in.Remarks),
				EnteredBy:       actor,
			}
			if inv, ok := invs[in.InvestigationID]; ok {
				r.Unit = inv.Unit
				r.Flag = inv.Flag(r.Value)
			}
			if err := s.results.Upsert(ctx, r); err != nil {
				return err
			}
			results = append(results, r)
		}

		stored, err := s.results.ListBySample(ctx, sample.ID)
		if err != nil {
			return err
		}
		if !complete(sample, stored) {
			return nil
		}
		now := s.now()
		sample, err = s.move(ctx, sample.ID, StatusReceived, StatusResulted, "", func(smp *Sample) {
			smp.ResultedAt = &now
		})
		resulted = err == nil
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if resulted {
		s.recordTransition(StatusResulted)
	}
	return sample, results, nil
}

func complete(sample *Sample, results []*Result) bool {
	have := make(map[uuid.UUID]bool, len(results))
	for _, r := range results {
		have[r.InvestigationID] = true
	}
	for _, id := range sample.InvestigationIDs {
		if !have[id] {
			return false
		}
	}
	return true
}

// -- Queries --

func (s *Service) GetSample(ctx context.Context, id uuid.UUID) (*Sample, error) {
	sample, err := s.samples.GetByID(ctx, id)
	return s.scopedSample(ctx, sample, err)
}

func (s *Service) GetSampleByBarcode(ctx context.Context, barcode string) (*Sample, error) {
	sample, err := s.samples.GetByBarcode(ctx, strings.ToUpper(strings.TrimSpace(barcode)))
	return s.scopedSample(ctx, sample, err)
}

func (s *Service) scopedSample(ctx context.Context, sample *Sample, err error) (*Sample, error) {
	if err != nil {
		return nil, err
	}
	if err := s.visible(ctx, sample.HospitalID, "sample"); err != nil {
		return nil, err
	}
	return sample, nil
}

func (s *Service) ListSamples(ctx context.Context, f SampleFilter) ([]*Sample, int, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, validate.Field("status", "unknown status")
	}
	scope, err := s.readScope(ctx)
	if err != nil {
		return nil, 0, err
	}
	f.Scope = scope
	return s.samples.List(ctx, f)
}

func (s *Service) Events(ctx context.Context, id uuid.UUID) ([]*Event, error) {
	if _, err := s.GetSample(ctx, id); err != nil {
		return nil, err
	}
	return s.samples.Events(ctx, id)
}

// Report assembles the printable report. Investigations without a value
// are listed as pending; only approved samples are final.
func (s *Service) Report(ctx context.Context, id uuid.UUID) (*Report, error) {
	sample, err := s.GetSample(ctx, id)
	if err != nil {
		return nil, err
	}
	patient, err := s.patients.GetByID(ctx, sample.PatientID)
	if err != nil {
		return nil, err
	}
	hospital, err := s.hospitals.GetHospital(ctx, sample.HospitalID)
	if err != nil {
		return nil, err
	}
	invs, err := s.catalog.Investigations(ctx, sample.InvestigationIDs)
	if err != nil {
		return nil, err
	}
	results, err := s.results.ListBySample(ctx, sample.ID)
	if err != nil {
		return nil, err
	}
	events, err := s.samples.Events(ctx, sample.ID)
	if err != nil {
		return nil, err
	}

	byInv := make(map[uuid.UUID]*Result, len(results))
	for _, r := range results {
		byInv[r.InvestigationID] = r
	}

	lines := make([]ReportLine, 0, len(sample.InvestigationIDs))
	for _, invID := range sample.InvestigationIDs {
		line := ReportLine{InvestigationID: invID, Pending: true}
		if inv, ok := invs[invID]; ok {
			line.Code = inv.Code
			line.Name = inv.Name
			line.Unit = inv.Unit
			line.Reference = referenceRange(inv)
		}
		if r, ok := byInv[invID]; ok {
			line.Value = r.Value
			line.Flag = r.Flag
			line.Remarks = r.Remarks
			if r.Unit != "" {
				line.Unit = r.Unit
			}
			line.Pending = false
		}
		lines = append(lines, line)
	}

	return &Report{
		Sample:       sample,
		Patient:      patient,
		HospitalName: hospital.Name,
		Lines:        lines,
		Final:        sample.Status == StatusApproved,
		Events:       events,
	}, nil
}

func referenceRange(inv *catalog.Investigation) string {
	switch {
	case inv.ReferenceLow != nil && inv.ReferenceHigh != nil:
		return fmt.Sprintf("%g - %g", *inv.ReferenceLow, *inv.ReferenceHigh)
	case inv.ReferenceLow != nil:
		return fmt.Sprintf(">= %g", *inv.ReferenceLow)
	case inv.ReferenceHigh != nil:
		return fmt.Sprintf("<= %g", *inv.ReferenceHigh)
	case inv.ReferenceText != nil:
		return *inv.ReferenceText
	}
	return ""
}

// notify sends templateID to the patient's phone and, when emailTemplate is
// set, to the hospital's email. Delivery failures stay in the notification
// history for retry and do not fail the workflow step.
func (s *Service) notify(ctx context.Context, sample *Sample, templateID, emailTemplate string, extra map[string]string) {
	if s.notifier == nil {
		return
	}
	patient, err := s.patients.GetByID(ctx, sample.PatientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("sample", sample.Barcode).Msg("notification skipped: patient lookup failed")
		return
	}
	data := map[string]string{
		"patient_name": patient.Name,
		"barcode":      sample.Barcode,
	}
	var hospitalEmail string
	if h, err := s.hospitals.GetHospital(ctx, sample.HospitalID); err == nil {
		data["hospital"] = h.Name
		hospitalEmail = h.Email
	}
	for k, v := range extra {
		data[k] = v
	}

	if patient.Phone != "" {
		s.send(ctx, sample, templateID, patient.Phone, data)
	}
	if emailTemplate != "" && hospitalEmail != "" {
		s.send(ctx, sample, emailTemplate, hospitalEmail, data)
	}
}

func (s *Service) send(ctx context.Context, sample *Sample, templateID, recipient string, data map[string]string) {
	if _, err := s.notifier.SendTemplate(ctx, templateID, recipient, data); err != nil {
		s.logger.Warn().Err(err).Str("sample", sample.Barcode).Str("template", templateID).Msg("notification failed")
	}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
