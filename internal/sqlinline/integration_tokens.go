package sqlinline

// Provider credentials. Properties are merged on rotation so operator notes
// survive a key change.

const QSelectIntegrationToken = `--sql 0c767a54-7000-4afe-8eab-46a8d585ac84
SELECT token
  FROM integration_tokens
 WHERE provider = $1
   AND token <> '';
`

const QUpsertIntegrationToken = `--sql d39f5293-be98-4d3e-8594-73cd1c9f6c9c
INSERT INTO integration_tokens (provider, token, properties)
VALUES ($1, $2, coalesce($3::jsonb, '{}'::jsonb))
ON CONFLICT (provider) DO UPDATE
   SET token      = EXCLUDED.token,
       properties = integration_tokens.properties || EXCLUDED.properties,
       updated_at = now();
`
