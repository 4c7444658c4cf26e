package sqlinline

const QSelectUserByID = `--sql 0762f19e-3468-4c2b-8f7c-df7145845372
select id::text, email, plan, credit_balance, created_at, updated_at
from users
where id = $1::uuid;
`

const QSelectUserByEmail = `--sql c4671156-1e19-4fc6-a8ee-cc83da6219a3
select id::text, email, plan, credit_balance, created_at, updated_at
from users
where lower(email) = lower($1::text);
`

const QUpdateUserPlan = `--sql a7a62271-91f3-4dcb-b3df-6bd9ffde70f5
update users
set plan = $2::text,
    updated_at = now()
where id = $1::uuid
returning id::text, email, plan, credit_balance, created_at, updated_at;
`
