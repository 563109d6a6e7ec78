package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/rpconcours/concours/core/academy"
)

const (
	academyColumns    = `id, name, description, logo_url, created_at, updated_at`
	classColumns      = `id, academy_id, name, description, created_at, updated_at`
	memberColumns     = `id, class_id, user_id, role_in_class, created_at`
	acModuleColumns   = `id, academy_id, title, module_type, description, max_score, is_required, order_position, created_at`
	assignmentColumns = `id, module_id, class_id, start_at, end_at, is_mandatory`
	resourceColumns   = `id, academy_id, class_id, module_id, title, url, type, visibility, created_by, created_at`
	acEvalColumns     = `id, module_id, class_id, title, description, total_points, evaluator_id, due_at, created_at`
	gradeColumns      = `id, evaluation_id, student_id, score, feedback, grader_id, graded_at`
)

type (
	academyRow struct {
		ID          string      `db:"id"`
		Name        string      `db:"name"`
		Description null.String `db:"description"`
		LogoURL     null.String `db:"logo_url"`
		CreatedAt   time.Time   `db:"created_at"`
		UpdatedAt   time.Time   `db:"updated_at"`
	}

	classRow struct {
		ID          string      `db:"id"`
		AcademyID   string      `db:"academy_id"`
		Name        string      `db:"name"`
		Description null.String `db:"description"`
		CreatedAt   time.Time   `db:"created_at"`
		UpdatedAt   time.Time   `db:"updated_at"`
	}

	memberRow struct {
		ID          string    `db:"id"`
		ClassID     string    `db:"class_id"`
		UserID      string    `db:"user_id"`
		RoleInClass string    `db:"role_in_class"`
		CreatedAt   time.Time `db:"created_at"`
	}

	acModuleRow struct {
		ID            string          `db:"id"`
		AcademyID     string          `db:"academy_id"`
		Title         string          `db:"title"`
		ModuleType    string          `db:"module_type"`
		Description   null.String     `db:"description"`
		MaxScore      decimal.Decimal `db:"max_score"`
		IsRequired    bool            `db:"is_required"`
		OrderPosition int             `db:"order_position"`
		CreatedAt     time.Time       `db:"created_at"`
	}

	assignmentRow struct {
		ID          string    `db:"id"`
		ModuleID    string    `db:"module_id"`
		ClassID     string    `db:"class_id"`
		StartAt     null.Time `db:"start_at"`
		EndAt       null.Time `db:"end_at"`
		IsMandatory bool      `db:"is_mandatory"`
	}

	resourceRow struct {
		ID         string      `db:"id"`
		AcademyID  string      `db:"academy_id"`
		ClassID    null.String `db:"class_id"`
		ModuleID   null.String `db:"module_id"`
		Title      string      `db:"title"`
		URL        string      `db:"url"`
		Type       string      `db:"type"`
		Visibility string      `db:"visibility"`
		CreatedBy  null.String `db:"created_by"`
		CreatedAt  time.Time   `db:"created_at"`
	}

	acEvalRow struct {
		ID          string          `db:"id"`
		ModuleID    string          `db:"module_id"`
		ClassID     string          `db:"class_id"`
		Title       string          `db:"title"`
		Description null.String     `db:"description"`
		TotalPoints decimal.Decimal `db:"total_points"`
		EvaluatorID null.String     `db:"evaluator_id"`
		DueAt       null.Time       `db:"due_at"`
		CreatedAt   time.Time       `db:"created_at"`
	}

	gradeRow struct {
		ID           string          `db:"id"`
		EvaluationID string          `db:"evaluation_id"`
		StudentID    string          `db:"student_id"`
		Score        decimal.Decimal `db:"score"`
		Feedback     null.String     `db:"feedback"`
		GraderID     null.String     `db:"grader_id"`
		GradedAt     time.Time       `db:"graded_at"`
	}
)

type academyRepository struct {
	db *sqlx.DB
}

var _ academy.Repository = (*academyRepository)(nil) // interface compliance check

func NewAcademyRepository(db *sqlx.DB) *academyRepository {
	return &academyRepository{db: db}
}

// Academies

func (repo academyRepository) CreateAcademy(ctx context.Context, a academy.Academy) (academy.Academy, error) {
	a.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, "INSERT INTO academies ("+academyColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		a.ID, a.Name, nullString(a.Description), nullString(a.LogoURL), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return academy.Academy{}, errors.Wrap(err, "inserting academy")
	}
	return a, nil
}

func academyFromRow(row academyRow) academy.Academy {
	return academy.Academy{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description.String,
		LogoURL:     row.LogoURL.String,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func (repo academyRepository) QueryAcademies(ctx context.Context) ([]academy.Academy, error) {
	var rows []academyRow
	if err := repo.db.SelectContext(ctx, &rows, "SELECT "+academyColumns+" FROM academies ORDER BY name"); err != nil {
		return nil, errors.Wrap(err, "querying academies")
	}
	res := make([]academy.Academy, 0, len(rows))
	for _, row := range rows {
		res = append(res, academyFromRow(row))
	}
	return res, nil
}

func (repo academyRepository) GetAcademy(ctx context.Context, id string) (academy.Academy, error) {
	if _, err := uuid.Parse(id); err != nil {
		return academy.Academy{}, academy.ErrNotFound
	}
	var row academyRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+academyColumns+" FROM academies WHERE id = $1", id); err != nil {
		return academy.Academy{}, trapNoRowsErr(err, academy.ErrNotFound, "finding academy")
	}
	return academyFromRow(row), nil
}

func (repo academyRepository) UpdateAcademy(ctx context.Context, a academy.Academy) (academy.Academy, error) {
	var row academyRow
	err := repo.db.GetContext(ctx, &row, `UPDATE academies SET name = $1, description = $2, logo_url = $3, updated_at = $4
		WHERE id = $5 RETURNING `+academyColumns,
		a.Name, nullString(a.Description), nullString(a.LogoURL), a.UpdatedAt.UTC(), a.ID)
	if err != nil {
		return academy.Academy{}, trapNoRowsErr(err, academy.ErrNotFound, "updating academy")
	}
	return academyFromRow(row), nil
}

// execDelete runs a DELETE statement by id, returning notFound when nothing was deleted.
func (repo academyRepository) execDelete(ctx context.Context, table, id string, notFound error) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return errors.Wrapf(err, "deleting from %s", table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound
	}
	return nil
}

func (repo academyRepository) DeleteAcademy(ctx context.Context, id string) error {
	return repo.execDelete(ctx, "academies", id, academy.ErrNotFound)
}

// Classes

func classFromRow(row classRow) academy.Class {
	return academy.Class{
		ID:          row.ID,
		AcademyID:   row.AcademyID,
		Name:        row.Name,
		Description: row.Description.String,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func (repo academyRepository) CreateClass(ctx context.Context, c academy.Class) (academy.Class, error) {
	c.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, "INSERT INTO academy_classes ("+classColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		c.ID, c.AcademyID, c.Name, nullString(c.Description), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return academy.Class{}, errors.Wrap(err, "inserting class")
	}
	return c, nil
}

func (repo academyRepository) QueryClasses(ctx context.Context, filter academy.ClassFilter) ([]academy.Class, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.AcademyID != "" {
		where = append(where, "academy_id = ?")
		args = append(args, filter.AcademyID)
	}
	if filter.MemberID != "" {
		sub := "SELECT class_id FROM academy_class_members WHERE user_id = ?"
		args = append(args, filter.MemberID)
		if filter.RoleInClass != "" {
			sub += " AND role_in_class = ?"
			args = append(args, filter.RoleInClass)
		}
		where = append(where, "id IN ("+sub+")")
	}

	q := "SELECT " + classColumns + " FROM academy_classes"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	var rows []classRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	res := make([]academy.Class, 0, len(rows))
	for _, row := range rows {
		res = append(res, classFromRow(row))
	}
	return res, nil
}

func (repo academyRepository) GetClass(ctx context.Context, id string) (academy.Class, error) {
	if _, err := uuid.Parse(id); err != nil {
		return academy.Class{}, academy.ErrClassNotFound
	}
	var row classRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+classColumns+" FROM academy_classes WHERE id = $1", id); err != nil {
		return academy.Class{}, trapNoRowsErr(err, academy.ErrClassNotFound, "finding class")
	}
	return classFromRow(row), nil
}

func (repo academyRepository) UpdateClass(ctx context.Context, c academy.Class) (academy.Class, error) {
	var row classRow
	err := repo.db.GetContext(ctx, &row, `UPDATE academy_classes SET name = $1, description = $2, updated_at = $3
		WHERE id = $4 RETURNING `+classColumns, c.Name, nullString(c.Description), c.UpdatedAt.UTC(), c.ID)
	if err != nil {
		return academy.Class{}, trapNoRowsErr(err, academy.ErrClassNotFound, "updating class")
	}
	return classFromRow(row), nil
}

func (repo academyRepository) DeleteClass(ctx context.Context, id string) error {
	return repo.execDelete(ctx, "academy_classes", id, academy.ErrClassNotFound)
}

// Members

func (repo academyRepository) AddMember(ctx context.Context, m academy.ClassMember) (academy.ClassMember, error) {
	m.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, "INSERT INTO academy_class_members ("+memberColumns+`)
		VALUES (:id, :class_id, :user_id, :role_in_class, :created_at)`, memberRow{
		ID:          m.ID,
		ClassID:     m.ClassID,
		UserID:      m.UserID,
		RoleInClass: m.RoleInClass,
		CreatedAt:   m.CreatedAt.UTC(),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return academy.ClassMember{}, academy.ErrMemberExists
		}
		return academy.ClassMember{}, errors.Wrap(err, "inserting class member")
	}
	return m, nil
}

func (repo academyRepository) QueryMembers(ctx context.Context, classID string) ([]academy.ClassMember, error) {
	var rows []memberRow
	if err := repo.db.SelectContext(ctx, &rows,
		"SELECT "+memberColumns+" FROM academy_class_members WHERE class_id = $1 ORDER BY created_at", classID); err != nil {
		return nil, errors.Wrap(err, "querying class members")
	}
	res := make([]academy.ClassMember, 0, len(rows))
	for _, row := range rows {
		res = append(res, academy.ClassMember(row))
	}
	return res, nil
}

func (repo academyRepository) GetMember(ctx context.Context, classID, userID string) (academy.ClassMember, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return academy.ClassMember{}, academy.ErrMemberNotFound
	}
	var row memberRow
	if err := repo.db.GetContext(ctx, &row,
		"SELECT "+memberColumns+" FROM academy_class_members WHERE class_id = $1 AND user_id = $2", classID, userID); err != nil {
		return academy.ClassMember{}, trapNoRowsErr(err, academy.ErrMemberNotFound, "finding class member")
	}
	return academy.ClassMember(row), nil
}

func (repo academyRepository) RemoveMember(ctx context.Context, classID, userID string) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM academy_class_members WHERE class_id = $1 AND user_id = $2", classID, userID)
	if err != nil {
		return errors.Wrap(err, "deleting class member")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return academy.ErrMemberNotFound
	}
	return nil
}

// Modules

func acModuleFromRow(row acModuleRow) academy.Module {
	return academy.Module{
		ID:            row.ID,
		AcademyID:     row.AcademyID,
		Title:         row.Title,
		ModuleType:    row.ModuleType,
		Description:   row.Description.String,
		MaxScore:      decimalFloat(row.MaxScore),
		IsRequired:    row.IsRequired,
		OrderPosition: row.OrderPosition,
		CreatedAt:     row.CreatedAt,
	}
}

func (repo academyRepository) CreateModule(ctx context.Context, m academy.Module) (academy.Module, error) {
	m.ID = uuid.New().String()
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if m.OrderPosition == 0 {
			var id string
			if err := tx.GetContext(ctx, &id, "SELECT id FROM academies WHERE id = $1 FOR UPDATE", m.AcademyID); err != nil {
				return trapNoRowsErr(err, academy.ErrNotFound, "locking academy")
			}
			if err := tx.GetContext(ctx, &m.OrderPosition,
				"SELECT COALESCE(MAX(order_position), 0) + 1 FROM academy_modules WHERE academy_id = $1", m.AcademyID); err != nil {
				return errors.Wrap(err, "getting next position")
			}
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO academy_modules ("+acModuleColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
			m.ID, m.AcademyID, m.Title, m.ModuleType, nullString(m.Description), decimal.NewFromFloat(m.MaxScore),
			m.IsRequired, m.OrderPosition, m.CreatedAt.UTC())
		return errors.Wrap(err, "inserting academy module")
	})
	if err != nil {
		return academy.Module{}, err
	}
	return m, nil
}

func (repo academyRepository) QueryModules(ctx context.Context, academyID string, ids ...string) ([]academy.Module, error) {
	var (
		where []string
		args  []interface{}
	)
	if academyID != "" {
		where = append(where, "academy_id = ?")
		args = append(args, academyID)
	}
	if len(ids) > 0 {
		where = append(where, "id IN (?)")
		args = append(args, ids)
	}
	q := "SELECT " + acModuleColumns + " FROM academy_modules"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY order_position"

	var rows []acModuleRow
	if err := selectIn(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying academy modules")
	}
	res := make([]academy.Module, 0, len(rows))
	for _, row := range rows {
		res = append(res, acModuleFromRow(row))
	}
	return res, nil
}

func (repo academyRepository) GetModule(ctx context.Context, id string) (academy.Module, error) {
	if _, err := uuid.Parse(id); err != nil {
		return academy.Module{}, academy.ErrModuleNotFound
	}
	var row acModuleRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+acModuleColumns+" FROM academy_modules WHERE id = $1", id); err != nil {
		return academy.Module{}, trapNoRowsErr(err, academy.ErrModuleNotFound, "finding academy module")
	}
	return acModuleFromRow(row), nil
}

func (repo academyRepository) UpdateModule(ctx context.Context, m academy.Module) (academy.Module, error) {
	var row acModuleRow
	err := repo.db.GetContext(ctx, &row, `UPDATE academy_modules SET title = $1, module_type = $2, description = $3,
		max_score = $4, is_required = $5, order_position = $6
		WHERE id = $7 RETURNING `+acModuleColumns,
		m.Title, m.ModuleType, nullString(m.Description), decimal.NewFromFloat(m.MaxScore), m.IsRequired, m.OrderPosition, m.ID)
	if err != nil {
		return academy.Module{}, trapNoRowsErr(err, academy.ErrModuleNotFound, "updating academy module")
	}
	return acModuleFromRow(row), nil
}

func (repo academyRepository) DeleteModule(ctx context.Context, id string) error {
	return repo.execDelete(ctx, "academy_modules", id, academy.ErrModuleNotFound)
}

// Assignments

func assignmentFromRow(row assignmentRow) academy.Assignment {
	return academy.Assignment{
		ID:          row.ID,
		ModuleID:    row.ModuleID,
		ClassID:     row.ClassID,
		StartAt:     timePtr(row.StartAt),
		EndAt:       timePtr(row.EndAt),
		IsMandatory: row.IsMandatory,
	}
}

func (repo academyRepository) CreateAssignment(ctx context.Context, a academy.Assignment) (academy.Assignment, error) {
	var row assignmentRow
	// an existing assignment of the module to the class is returned untouched
	err := repo.db.GetContext(ctx, &row, `INSERT INTO academy_module_assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (module_id, class_id) DO UPDATE SET module_id = academy_module_assignments.module_id
		RETURNING `+assignmentColumns,
		uuid.New().String(), a.ModuleID, a.ClassID, nullTimePtr(a.StartAt), nullTimePtr(a.EndAt), a.IsMandatory)
	if err != nil {
		return academy.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	return assignmentFromRow(row), nil
}

func (repo academyRepository) QueryAssignments(ctx context.Context, filter academy.AssignmentFilter) ([]academy.Assignment, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ModuleID != "" {
		where = append(where, "module_id = ?")
		args = append(args, filter.ModuleID)
	}
	if filter.ClassIDs != nil {
		if len(filter.ClassIDs) == 0 {
			return []academy.Assignment{}, nil
		}
		where = append(where, "class_id IN (?)")
		args = append(args, filter.ClassIDs)
	}
	q := "SELECT " + assignmentColumns + " FROM academy_module_assignments"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	var rows []assignmentRow
	if err := selectIn(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	res := make([]academy.Assignment, 0, len(rows))
	for _, row := range rows {
		res = append(res, assignmentFromRow(row))
	}
	return res, nil
}

func (repo academyRepository) DeleteAssignment(ctx context.Context, id string) error {
	if _, err := repo.db.ExecContext(ctx, "DELETE FROM academy_module_assignments WHERE id = $1", id); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return nil
}

// Resources

func resourceToRow(r academy.Resource) resourceRow {
	return resourceRow{
		ID:         r.ID,
		AcademyID:  r.AcademyID,
		ClassID:    nullString(r.ClassID),
		ModuleID:   nullString(r.ModuleID),
		Title:      r.Title,
		URL:        r.URL,
		Type:       r.Type,
		Visibility: r.Visibility,
		CreatedBy:  nullString(r.CreatedBy),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func resourceFromRow(row resourceRow) academy.Resource {
	return academy.Resource{
		ID:         row.ID,
		AcademyID:  row.AcademyID,
		ClassID:    row.ClassID.String,
		ModuleID:   row.ModuleID.String,
		Title:      row.Title,
		URL:        row.URL,
		Type:       row.Type,
		Visibility: row.Visibility,
		CreatedBy:  row.CreatedBy.String,
		CreatedAt:  row.CreatedAt,
	}
}

func (repo academyRepository) CreateResource(ctx context.Context, r academy.Resource) (academy.Resource, error) {
	r.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, "INSERT INTO academy_resources ("+resourceColumns+`) VALUES (
		:id, :academy_id, :class_id, :module_id, :title, :url, :type, :visibility, :created_by, :created_at)`, resourceToRow(r))
	if err != nil {
		return academy.Resource{}, errors.Wrap(err, "inserting resource")
	}
	return r, nil
}

func (repo academyRepository) QueryResources(ctx context.Context, filter academy.ResourceFilter) ([]academy.Resource, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.AcademyID != "" {
		where = append(where, "academy_id = ?")
		args = append(args, filter.AcademyID)
	}
	if filter.ClassID != "" {
		where = append(where, "class_id = ?")
		args = append(args, filter.ClassID)
	}
	if filter.ModuleID != "" {
		where = append(where, "module_id = ?")
		args = append(args, filter.ModuleID)
	}
	q := "SELECT " + resourceColumns + " FROM academy_resources"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	var rows []resourceRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying resources")
	}
	res := make([]academy.Resource, 0, len(rows))
	for _, row := range rows {
		res = append(res, resourceFromRow(row))
	}
	return res, nil
}

func (repo academyRepository) GetResource(ctx context.Context, id string) (academy.Resource, error) {
	if _, err := uuid.Parse(id); err != nil {
		return academy.Resource{}, academy.ErrResourceNotFound
	}
	var row resourceRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+resourceColumns+" FROM academy_resources WHERE id = $1", id); err != nil {
		return academy.Resource{}, trapNoRowsErr(err, academy.ErrResourceNotFound, "finding resource")
	}
	return resourceFromRow(row), nil
}

func (repo academyRepository) UpdateResource(ctx context.Context, r academy.Resource) (academy.Resource, error) {
	res, err := repo.db.NamedExecContext(ctx, `UPDATE academy_resources SET
		class_id = :class_id, module_id = :module_id, title = :title, url = :url, type = :type, visibility = :visibility
		WHERE id = :id`, resourceToRow(r))
	if err != nil {
		return academy.Resource{}, errors.Wrap(err, "updating resource")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return academy.Resource{}, academy.ErrResourceNotFound
	}
	return r, nil
}

func (repo academyRepository) DeleteResource(ctx context.Context, id string) error {
	return repo.execDelete(ctx, "academy_resources", id, academy.ErrResourceNotFound)
}

// Evaluations

func acEvalToRow(e academy.Evaluation) acEvalRow {
	return acEvalRow{
		ID:          e.ID,
		ModuleID:    e.ModuleID,
		ClassID:     e.ClassID,
		Title:       e.Title,
		Description: nullString(e.Description),
		TotalPoints: decimal.NewFromFloat(e.TotalPoints),
		EvaluatorID: nullString(e.EvaluatorID),
		DueAt:       nullTimePtr(e.DueAt),
		CreatedAt:   e.CreatedAt.UTC(),
	}
}

func acEvalFromRow(row acEvalRow) academy.Evaluation {
	return academy.Evaluation{
		ID:          row.ID,
		ModuleID:    row.ModuleID,
		ClassID:     row.ClassID,
		Title:       row.Title,
		Description: row.Description.String,
		TotalPoints: decimalFloat(row.TotalPoints),
		EvaluatorID: row.EvaluatorID.String,
		DueAt:       timePtr(row.DueAt),
		CreatedAt:   row.CreatedAt,
	}
}

func (repo academyRepository) CreateEvaluation(ctx context.Context, e academy.Evaluation) (academy.Evaluation, error) {
	e.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, "INSERT INTO academy_evaluations ("+acEvalColumns+`) VALUES (
		:id, :module_id, :class_id, :title, :description, :total_points, :evaluator_id, :due_at, :created_at)`, acEvalToRow(e))
	if err != nil {
		return academy.Evaluation{}, errors.Wrap(err, "inserting evaluation")
	}
	return e, nil
}

func (repo academyRepository) QueryEvaluations(ctx context.Context, filter academy.EvaluationFilter) ([]academy.Evaluation, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ModuleID != "" {
		where = append(where, "module_id = ?")
		args = append(args, filter.ModuleID)
	}
	// evaluator OR class
	var or []string
	if filter.EvaluatorID != "" {
		or = append(or, "evaluator_id = ?")
		args = append(args, filter.EvaluatorID)
	}
	if len(filter.ClassIDs) > 0 {
		or = append(or, "class_id IN (?)")
		args = append(args, filter.ClassIDs)
	}
	if len(or) > 0 {
		where = append(where, "("+strings.Join(or, " OR ")+")")
	} else if filter.ClassIDs != nil {
		return []academy.Evaluation{}, nil
	}

	q := "SELECT " + acEvalColumns + " FROM academy_evaluations"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	var rows []acEvalRow
	if err := selectIn(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}
	res := make([]academy.Evaluation, 0, len(rows))
	for _, row := range rows {
		res = append(res, acEvalFromRow(row))
	}
	return res, nil
}

func (repo academyRepository) GetEvaluation(ctx context.Context, id string) (academy.Evaluation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return academy.Evaluation{}, academy.ErrEvaluationNotFound
	}
	var row acEvalRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+acEvalColumns+" FROM academy_evaluations WHERE id = $1", id); err != nil {
		return academy.Evaluation{}, trapNoRowsErr(err, academy.ErrEvaluationNotFound, "finding evaluation")
	}
	return acEvalFromRow(row), nil
}

func (repo academyRepository) UpdateEvaluation(ctx context.Context, e academy.Evaluation) (academy.Evaluation, error) {
	var row acEvalRow
	q, args, err := repo.db.BindNamed(`UPDATE academy_evaluations SET
		module_id = :module_id, class_id = :class_id, title = :title, description = :description,
		total_points = :total_points, evaluator_id = :evaluator_id, due_at = :due_at
		WHERE id = :id RETURNING `+acEvalColumns, acEvalToRow(e))
	if err != nil {
		return academy.Evaluation{}, errors.Wrap(err, "binding evaluation")
	}
	if err = repo.db.GetContext(ctx, &row, q, args...); err != nil {
		return academy.Evaluation{}, trapNoRowsErr(err, academy.ErrEvaluationNotFound, "updating evaluation")
	}
	return acEvalFromRow(row), nil
}

func (repo academyRepository) DeleteEvaluation(ctx context.Context, id string) error {
	return repo.execDelete(ctx, "academy_evaluations", id, academy.ErrEvaluationNotFound)
}

// Grades

func gradeFromRow(row gradeRow) academy.Grade {
	return academy.Grade{
		ID:           row.ID,
		EvaluationID: row.EvaluationID,
		StudentID:    row.StudentID,
		Score:        decimalFloat(row.Score),
		Feedback:     row.Feedback.String,
		GraderID:     row.GraderID.String,
		GradedAt:     row.GradedAt,
	}
}

func (repo academyRepository) UpsertGrade(ctx context.Context, g academy.Grade) (academy.Grade, error) {
	var row gradeRow
	err := repo.db.GetContext(ctx, &row, `INSERT INTO academy_grades (`+gradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (evaluation_id, student_id) DO UPDATE SET
		score = EXCLUDED.score, feedback = EXCLUDED.feedback, grader_id = EXCLUDED.grader_id, graded_at = EXCLUDED.graded_at
		RETURNING `+gradeColumns,
		uuid.New().String(), g.EvaluationID, g.StudentID, decimal.NewFromFloat(g.Score), nullString(g.Feedback),
		nullString(g.GraderID), g.GradedAt.UTC())
	if err != nil {
		return academy.Grade{}, errors.Wrap(err, "saving grade")
	}
	return gradeFromRow(row), nil
}

func (repo academyRepository) QueryGrades(ctx context.Context, evaluationID string) ([]academy.Grade, error) {
	var rows []gradeRow
	if err := repo.db.SelectContext(ctx, &rows,
		"SELECT "+gradeColumns+" FROM academy_grades WHERE evaluation_id = $1 ORDER BY graded_at", evaluationID); err != nil {
		return nil, errors.Wrap(err, "querying grades")
	}
	res := make([]academy.Grade, 0, len(rows))
	for _, row := range rows {
		res = append(res, gradeFromRow(row))
	}
	return res, nil
}
