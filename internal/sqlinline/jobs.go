package sqlinline

const jobColumns = `id::text, user_id::text, type, status, params, external_request_id, credits_charged,
       output_path, error_message, retry_count, created_at, updated_at, submitted_at, completed_at`

const QInsertJob = `--sql 72f263bf-d7b2-49ed-b0a9-653c9ba63d71
insert into jobs (id, user_id, type, status, params, credits_charged, retry_count, created_at, updated_at)
values ($1::uuid, $2::uuid, $3::text, $4::text, coalesce($5::jsonb, '{}'::jsonb), $6::bigint, 0, now(), now())
returning created_at, updated_at;
`

const QSelectJobByID = `--sql 6f7a6362-a72c-427c-9fae-8468ca269f03
select ` + jobColumns + `
from jobs
where id = $1::uuid;
`

const QSelectJobByIDForUpdate = `--sql d7f25ee1-3358-4d95-95c0-4790bd3469d5
select ` + jobColumns + `
from jobs
where id = $1::uuid
for update;
`

const QSelectJobByExternalID = `--sql bf71fc60-9def-4fa4-badb-941f2b05739f
select ` + jobColumns + `
from jobs
where external_request_id = $1::text
limit 1;
`

const QUpdateJobState = `--sql 0cf64895-b392-47d2-b21f-15f8b983cd47
update jobs
set status = $2::text,
    external_request_id = $3::text,
    output_path = $4::text,
    error_message = $5::text,
    retry_count = $6::int,
    submitted_at = $7::timestamptz,
    completed_at = $8::timestamptz,
    updated_at = now()
where id = $1::uuid
returning updated_at;
`

const QListStaleJobs = `--sql 74c33864-7583-4941-9b0b-f9270017b0b2
select ` + jobColumns + `
from jobs
where status = $1::text
  and updated_at < $2::timestamptz
order by updated_at asc
limit $3::int;
`

const QCountJobsByStatusSince = `--sql e8882952-4139-4381-8d52-7b43aed0298b
select status, count(*)
from jobs
where created_at >= $1::timestamptz
group by status;
`
