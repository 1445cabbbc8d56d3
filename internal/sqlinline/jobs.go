package sqlinline

const QEnsureJobsSchema = `--sql 18464899-65af-4afc-b667-361f3ae3aa2c
create table if not exists floorplan_jobs (
    id           text primary key,
    queue        text not null,
    task         text not null,
    status       text not null default 'queued',
    payload      jsonb not null,
    result       jsonb,
    created_at   timestamptz not null default now(),
    started_at   timestamptz,
    completed_at timestamptz
);
create index if not exists floorplan_jobs_claim_idx on floorplan_jobs (queue, status, created_at);
`

const QInsertJob = `--sql 44c3828c-f61b-460c-85ab-2df77b226369
insert into floorplan_jobs (id, queue, task, status, payload, created_at)
values ($1::text, $2::text, $3::text, 'queued', $4::jsonb, $5::timestamptz)
on conflict (id) do nothing
returning id;
`

const QClaimJob = `--sql 0cf03543-dbfa-49a8-9f57-8799b0279a0d
with next_job as (
    select id
    from floorplan_jobs
    where queue = $1::text
      and status = 'queued'
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update floorplan_jobs
    set status = 'started', started_at = $2::timestamptz
    where id in (select id from next_job)
    returning id, task, status, payload, result, created_at, started_at, completed_at
)
select * from updated;
`

const QSelectJob = `--sql 1735b597-0b89-484c-ab6d-8fcc5285bcc6
select id, task, status, payload, result, created_at, started_at, completed_at
from floorplan_jobs
where id = $1::text;
`

const QFinishJob = `--sql e833fc7f-1ac4-4262-9850-38d9af4f8b8e
update floorplan_jobs
set status = $2::text,
    result = $3::jsonb,
    completed_at = $4::timestamptz
where id = $1::text
  and status in ('queued', 'started');
`

const QPurgeJobs = `--sql 4184e189-a0ae-4708-8542-7b8123bd7486
delete from floorplan_jobs
where completed_at is not null
  and completed_at < $1::timestamptz;
`
