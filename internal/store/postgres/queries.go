package postgres

const queryInsertAutomation = `
INSERT INTO automations (
    id, title, description, status, trigger_mode, trigger_enabled,
    code, dependencies, env_var_names, api_key, runtime_environment,
    owner_id, admin_ids, doc_version, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

const queryGetAutomation = `
SELECT
    id, title, description, status, trigger_mode, trigger_enabled,
    code, dependencies, env_var_names, api_key, runtime_environment,
    owner_id, admin_ids, doc_version, created_at, updated_at, deleted_at
FROM automations
WHERE id = $1
`

const queryListAutomations = `
SELECT
    id, title, description, status, trigger_mode, trigger_enabled,
    code, dependencies, env_var_names, api_key, runtime_environment,
    owner_id, admin_ids, doc_version, created_at, updated_at, deleted_at
FROM automations
WHERE deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

const queryUpdateAutomation = `
UPDATE automations
SET title = $2, description = $3, status = $4, trigger_mode = $5,
    trigger_enabled = $6, code = $7, dependencies = $8, env_var_names = $9,
    api_key = $10, runtime_environment = $11, admin_ids = $12,
    doc_version = doc_version + 1, updated_at = $13
WHERE id = $1
  AND doc_version = $14
  AND deleted_at IS NULL
`

const querySoftDeleteAutomation = `
UPDATE automations
SET deleted_at = $2, updated_at = $2
WHERE id = $1
  AND deleted_at IS NULL
`

const queryGetTimeBasedAutomations = `
SELECT
    id, title, description, status, trigger_mode, trigger_enabled,
    code, dependencies, env_var_names, api_key, runtime_environment,
    owner_id, admin_ids, doc_version, created_at, updated_at, deleted_at
FROM automations
WHERE deleted_at IS NULL
  AND status = 'live'
  AND trigger_mode = 'time_based'
  AND trigger_enabled = true
ORDER BY id
`

const queryInsertVersion = `
INSERT INTO versions (
    id, automation_id, semver, code, dependencies, env_var_names,
    commit_message, sync_status, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryListVersions = `
SELECT id, automation_id, semver, code, dependencies, env_var_names,
       commit_message, sync_status, created_at
FROM versions
WHERE automation_id = $1
ORDER BY seq DESC
`

const queryGetVersion = `
SELECT id, automation_id, semver, code, dependencies, env_var_names,
       commit_message, sync_status, created_at
FROM versions
WHERE id = $1
`

const queryLatestSemVer = `
SELECT semver FROM versions
WHERE automation_id = $1
ORDER BY seq DESC
LIMIT 1
`

const queryUpdateSyncStatus = `
UPDATE versions SET sync_status = $2 WHERE id = $1
`

const queryInsertSchedule = `
INSERT INTO schedules (
    id, automation_id, cron_expression, timezone, runtime_environment,
    description, notify_enabled, notify_on_completed, notify_on_failed,
    created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const queryGetSchedule = `
SELECT id, automation_id, cron_expression, timezone, runtime_environment,
       description, notify_enabled, notify_on_completed, notify_on_failed,
       created_at, updated_at
FROM schedules
WHERE id = $1
`

const queryListSchedules = `
SELECT id, automation_id, cron_expression, timezone, runtime_environment,
       description, notify_enabled, notify_on_completed, notify_on_failed,
       created_at, updated_at
FROM schedules
WHERE automation_id = $1
ORDER BY created_at
`

const queryUpdateSchedule = `
UPDATE schedules
SET cron_expression = $2, timezone = $3, runtime_environment = $4,
    description = $5, notify_enabled = $6, notify_on_completed = $7,
    notify_on_failed = $8, updated_at = $9
WHERE id = $1
`

const queryDeleteSchedule = `
DELETE FROM schedules WHERE id = $1
`

const queryInsertExecution = `
INSERT INTO executions (
    id, automation_id, schedule_id, status, trigger_type, started_at,
    ended_at, exit_code, error_message, automation_title, user_name,
    user_email, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

const queryRunningExecution = `
SELECT id, automation_id, schedule_id, status, trigger_type, started_at,
       ended_at, exit_code, error_message, automation_title, user_name,
       user_email, created_at
FROM executions
WHERE automation_id = $1
  AND status = 'running'
`

const queryCloseExecution = `
UPDATE executions
SET status = $2, ended_at = $3, exit_code = $4, error_message = $5
WHERE id = $1
  AND status = 'running'
`

const queryGetExecution = `
SELECT id, automation_id, schedule_id, status, trigger_type, started_at,
       ended_at, exit_code, error_message, automation_title, user_name,
       user_email, created_at
FROM executions
WHERE id = $1
`

const queryStaleRunning = `
SELECT id, automation_id, schedule_id, status, trigger_type, started_at,
       ended_at, exit_code, error_message, automation_title, user_name,
       user_email, created_at
FROM executions
WHERE status = 'running'
  AND started_at < $1
ORDER BY started_at
`

const queryInsertLog = `
INSERT INTO execution_logs (execution_id, line, created_at)
VALUES ($1, $2, $3)
`

const queryGetLogs = `
SELECT line FROM execution_logs
WHERE execution_id = $1
ORDER BY seq
`

const queryUpsertLink = `
INSERT INTO vcs_links (automation_id, state, repo_owner, repo_name, repo_branch, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (automation_id)
DO UPDATE SET state = $2, repo_owner = $3, repo_name = $4, repo_branch = $5, updated_at = $6
`

const queryGetLink = `
SELECT automation_id, state, repo_owner, repo_name, repo_branch
FROM vcs_links
WHERE automation_id = $1
`

const queryDeleteLink = `
DELETE FROM vcs_links WHERE automation_id = $1
`
