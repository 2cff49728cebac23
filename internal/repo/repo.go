package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stageflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- spaces ---

func (r Repo) InsertSpaceTx(ctx context.Context, tx *sql.Tx, s domain.Space) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO spaces(id,name,day_start,day_end,working_days,parallel_tasks,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.Name, s.DayStart, s.DayEnd, strings.Join(s.WorkingDays, ","), boolInt(s.ParallelTasks), s.CreatedAt)
	return err
}

func scanSpace(scan func(dest ...any) error) (domain.Space, error) {
	var s domain.Space
	var days string
	var parallel int
	err := scan(&s.ID, &s.Name, &s.DayStart, &s.DayEnd, &days, &parallel, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if days != "" {
		s.WorkingDays = strings.Split(days, ",")
	}
	s.ParallelTasks = parallel != 0
	return s, nil
}

const spaceCols = `id,name,day_start,day_end,working_days,parallel_tasks,created_at`

func (r Repo) GetSpace(ctx context.Context, id string) (domain.Space, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+spaceCols+` FROM spaces WHERE id=?`, id)
	return scanSpace(row.Scan)
}

func (r Repo) ListSpaces(ctx context.Context) ([]domain.Space, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+spaceCols+` FROM spaces ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Space
	for rows.Next() {
		s, err := scanSpace(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) SingleSpace(ctx context.Context) (domain.Space, error) {
	spaces, err := r.ListSpaces(ctx)
	if err != nil {
		return domain.Space{}, err
	}
	if len(spaces) == 0 {
		return domain.Space{}, ErrNotFound
	}
	if len(spaces) > 1 {
		return domain.Space{}, fmt.Errorf("multiple spaces exist; specify --space")
	}
	return spaces[0], nil
}

func (r Repo) DeleteSpaceTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM spaces WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- memberships ---

func (r Repo) UpsertMembershipTx(ctx context.Context, tx *sql.Tx, m domain.Membership) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO space_members(space_id,actor_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(space_id,actor_id) DO UPDATE SET role=excluded.role`, m.SpaceID, m.ActorID, m.Role, m.CreatedAt)
	return err
}

func (r Repo) GetMembership(ctx context.Context, spaceID, actorID string) (domain.Membership, error) {
	var m domain.Membership
	err := r.DB.QueryRowContext(ctx, `SELECT space_id,actor_id,role,created_at FROM space_members WHERE space_id=? AND actor_id=?`, spaceID, actorID).
		Scan(&m.SpaceID, &m.ActorID, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListMemberships(ctx context.Context, spaceID string) ([]domain.Membership, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT space_id,actor_id,role,created_at FROM space_members WHERE space_id=? ORDER BY actor_id`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.SpaceID, &m.ActorID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- groups ---

const groupCols = `id,space_id,name,position,estimated_hours,is_start,is_approval_gate,is_terminal,created_at`

func (r Repo) InsertGroupTx(ctx context.Context, tx *sql.Tx, g domain.Group) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO groups(`+groupCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		g.ID, g.SpaceID, g.Name, g.Position, g.EstimatedHours, boolInt(g.IsStart), boolInt(g.IsApprovalGate), boolInt(g.IsTerminal), g.CreatedAt)
	return err
}

func scanGroup(scan func(dest ...any) error) (domain.Group, error) {
	var g domain.Group
	var start, gate, terminal int
	err := scan(&g.ID, &g.SpaceID, &g.Name, &g.Position, &g.EstimatedHours, &start, &gate, &terminal, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.IsStart = start != 0
	g.IsApprovalGate = gate != 0
	g.IsTerminal = terminal != 0
	return g, nil
}

func (r Repo) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+groupCols+` FROM groups WHERE id=?`, id)
	g, err := scanGroup(row.Scan)
	if err != nil {
		return g, err
	}
	g.Dependencies, err = r.ListGroupDependencies(ctx, g.ID)
	return g, err
}

func (r Repo) ListGroups(ctx context.Context, spaceID string) ([]domain.Group, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+groupCols+` FROM groups WHERE space_id=? ORDER BY position ASC`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Dependencies, err = r.ListGroupDependencies(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// StartGroup returns the unique start stage of a space.
func (r Repo) StartGroup(ctx context.Context, spaceID string) (domain.Group, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+groupCols+` FROM groups WHERE space_id=? AND is_start=1 LIMIT 1`, spaceID)
	return scanGroup(row.Scan)
}

// CountStartGroups reports how many start stages a space declares.
func (r Repo) CountStartGroups(ctx context.Context, spaceID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM groups WHERE space_id=? AND is_start=1`, spaceID).Scan(&n)
	return n, err
}

func (r Repo) InsertGroupDependencyTx(ctx context.Context, tx *sql.Tx, d domain.Dependency) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO group_deps(group_id,depends_on_group_id,kind) VALUES (?,?,?)`,
		d.GroupID, d.DependsOnGroupID, d.Kind)
	return err
}

func (r Repo) ListGroupDependencies(ctx context.Context, groupID string) ([]domain.Dependency, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT group_id,depends_on_group_id,kind FROM group_deps WHERE group_id=?`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		if err := rows.Scan(&d.GroupID, &d.DependsOnGroupID, &d.Kind); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListSpaceDependencies returns every dependency edge in a space.
func (r Repo) ListSpaceDependencies(ctx context.Context, spaceID string) ([]domain.Dependency, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT d.group_id,d.depends_on_group_id,d.kind FROM group_deps d
JOIN groups g ON g.id=d.group_id WHERE g.space_id=?`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		if err := rows.Scan(&d.GroupID, &d.DependsOnGroupID, &d.Kind); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// --- tasks ---

const taskCols = `id,space_id,group_id,title,description,owner_id,status,approval_status,estimated_hours,started_at,due_at,completed_at,paused_hours,pause_started_at,actual_hours,classification,delay_hours,created_at,updated_at`

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.SpaceID, t.GroupID, t.Title, nullable(t.Description), nullableStringPtr(t.OwnerID),
		t.Status, t.ApprovalStatus, t.EstimatedHours,
		nullableStringPtr(t.StartedAt), nullableStringPtr(t.DueAt), nullableStringPtr(t.CompletedAt),
		t.PausedHours, nullableStringPtr(t.PauseStartedAt), nullableFloatPtr(t.ActualHours),
		t.Classification, t.DelayHours, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET group_id=?, title=?, description=?, owner_id=?, status=?, approval_status=?, estimated_hours=?, started_at=?, due_at=?, completed_at=?, paused_hours=?, pause_started_at=?, actual_hours=?, classification=?, delay_hours=?, updated_at=? WHERE id=?`,
		t.GroupID, t.Title, nullable(t.Description), nullableStringPtr(t.OwnerID), t.Status, t.ApprovalStatus,
		t.EstimatedHours, nullableStringPtr(t.StartedAt), nullableStringPtr(t.DueAt), nullableStringPtr(t.CompletedAt),
		t.PausedHours, nullableStringPtr(t.PauseStartedAt), nullableFloatPtr(t.ActualHours),
		t.Classification, t.DelayHours, t.UpdatedAt, t.ID)
	return err
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, ownerID, startedAt, dueAt, completedAt, pauseStartedAt sql.NullString
	var actualHours sql.NullFloat64
	err := scan(&t.ID, &t.SpaceID, &t.GroupID, &t.Title, &description, &ownerID, &t.Status, &t.ApprovalStatus,
		&t.EstimatedHours, &startedAt, &dueAt, &completedAt, &t.PausedHours, &pauseStartedAt, &actualHours,
		&t.Classification, &t.DelayHours, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if ownerID.Valid {
		t.OwnerID = &ownerID.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.String
	}
	if dueAt.Valid {
		t.DueAt = &dueAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if pauseStartedAt.Valid {
		t.PauseStartedAt = &pauseStartedAt.String
	}
	if actualHours.Valid {
		t.ActualHours = &actualHours.Float64
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	SpaceID string
	GroupID string
	Status  string
	OwnerID string
	Limit   int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.SpaceID != "" {
		clauses = append(clauses, "space_id=?")
		args = append(args, f.SpaceID)
	}
	if f.GroupID != "" {
		clauses = append(clauses, "group_id=?")
		args = append(args, f.GroupID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskCols + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveTasks counts non-completed tasks in a space, used when the
// space forbids parallel in-flight tasks.
func (r Repo) CountActiveTasks(ctx context.Context, spaceID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE space_id=? AND status IN ('in_progress','paused')`, spaceID).Scan(&n)
	return n, err
}

func (r Repo) CountTasksByGroup(ctx context.Context, spaceID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT group_id, count(*) FROM tasks WHERE space_id=? GROUP BY group_id`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var groupID string
		var count int
		if err := rows.Scan(&groupID, &count); err != nil {
			return nil, err
		}
		res[groupID] = count
	}
	return res, rows.Err()
}

// --- stage history ---

const stageCols = `id,task_id,group_id,entered_at,exited_at,owner_at_entry,due_at,paused_hours_at_entry,hours_spent,classification,delay_hours`

func (r Repo) InsertStageEntryTx(ctx context.Context, tx *sql.Tx, e domain.StageEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_history(task_id,group_id,entered_at,exited_at,owner_at_entry,due_at,paused_hours_at_entry,hours_spent,classification,delay_hours) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.TaskID, e.GroupID, e.EnteredAt, nullableStringPtr(e.ExitedAt), nullableStringPtr(e.OwnerAtEntry),
		nullableStringPtr(e.DueAt), e.PausedHoursAtEntry, nullableFloatPtr(e.HoursSpent),
		nullableStringPtr(e.Classification), nullableFloatPtr(e.DelayHours))
	return err
}

// CloseStageEntryTx back-fills the single open entry for a task. The open
// entry is the only row ever mutated after insert.
func (r Repo) CloseStageEntryTx(ctx context.Context, tx *sql.Tx, taskID, exitedAt string, hoursSpent float64, classification string, delayHours float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE stage_history SET exited_at=?, hours_spent=?, classification=?, delay_hours=? WHERE task_id=? AND exited_at IS NULL`,
		exitedAt, hoursSpent, classification, delayHours, taskID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s has no open stage entry", taskID)
	}
	if n > 1 {
		return fmt.Errorf("task %s has %d open stage entries", taskID, n)
	}
	return nil
}

func scanStageEntry(scan func(dest ...any) error) (domain.StageEntry, error) {
	var e domain.StageEntry
	var exitedAt, ownerAtEntry, dueAt, classification sql.NullString
	var hoursSpent, delayHours sql.NullFloat64
	err := scan(&e.ID, &e.TaskID, &e.GroupID, &e.EnteredAt, &exitedAt, &ownerAtEntry, &dueAt,
		&e.PausedHoursAtEntry, &hoursSpent, &classification, &delayHours)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if exitedAt.Valid {
		e.ExitedAt = &exitedAt.String
	}
	if ownerAtEntry.Valid {
		e.OwnerAtEntry = &ownerAtEntry.String
	}
	if dueAt.Valid {
		e.DueAt = &dueAt.String
	}
	if hoursSpent.Valid {
		e.HoursSpent = &hoursSpent.Float64
	}
	if classification.Valid {
		e.Classification = &classification.String
	}
	if delayHours.Valid {
		e.DelayHours = &delayHours.Float64
	}
	return e, nil
}

// OpenStageEntryTx returns the single entry with a null exited_at.
func (r Repo) OpenStageEntryTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.StageEntry, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+stageCols+` FROM stage_history WHERE task_id=? AND exited_at IS NULL`, taskID)
	return scanStageEntry(row.Scan)
}

func (r Repo) ListStageHistory(ctx context.Context, taskID string) ([]domain.StageEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stageCols+` FROM stage_history WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageEntry
	for rows.Next() {
		e, err := scanStageEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ClosedStageSetTx maps group IDs the task has fully exited at least once.
func (r Repo) ClosedStageSetTx(ctx context.Context, tx *sql.Tx, taskID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT group_id FROM stage_history WHERE task_id=? AND exited_at IS NOT NULL`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res[id] = true
	}
	return res, rows.Err()
}

// --- status history ---

func (r Repo) InsertStatusEntryTx(ctx context.Context, tx *sql.Tx, e domain.StatusEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO status_history(task_id,status,actor_id,note,created_at) VALUES (?,?,?,?,?)`,
		e.TaskID, e.Status, e.ActorID, nullable(e.Note), e.CreatedAt)
	return err
}

func (r Repo) ListStatusHistory(ctx context.Context, taskID string) ([]domain.StatusEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,status,actor_id,note,created_at FROM status_history WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusEntry
	for rows.Next() {
		var e domain.StatusEntry
		var note sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Status, &e.ActorID, &note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if note.Valid {
			e.Note = note.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- comments ---

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,task_id,space_id,author_id,body,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.SpaceID, c.AuthorID, c.Body, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,space_id,author_id,body,created_at FROM comments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.SpaceID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, spaceID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if spaceID != "" {
		clauses = append(clauses, "space_id=?")
		args = append(args, spaceID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,space_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var spaceID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &spaceID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if spaceID.Valid {
			e.SpaceID = spaceID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
