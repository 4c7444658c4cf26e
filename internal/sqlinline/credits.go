package sqlinline

const QLockUserBalance = `--sql af9ed0b5-11ac-41ce-a9d2-2ecc20db899c
select credit_balance
from users
where id = $1::uuid
for update;
`

const QUpdateUserBalance = `--sql 3fa288dc-8ccf-4599-b2f4-0b015160a993
update users
set credit_balance = $2::bigint,
    updated_at = now()
where id = $1::uuid;
`

const QInsertCreditTransaction = `--sql a2d837f2-d81d-4113-88bb-699aeedba1c4
insert into credit_transactions (id, user_id, job_id, delta, balance_before, balance_after, reason, created_at)
values ($1::uuid, $2::uuid, $3::uuid, $4::bigint, $5::bigint, $6::bigint, $7::text, now())
returning created_at;
`

const QListCreditTransactionsByJob = `--sql 595de0f6-4397-4650-b93f-aa8171021cdc
select id::text, user_id::text, job_id::text, delta, balance_before, balance_after, reason, created_at
from credit_transactions
where job_id = $1::uuid
order by created_at asc;
`
