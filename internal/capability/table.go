package capability

import "context"

// builtinEntries is the authoritative capability table. Every dispatchable
// operation must appear here exactly once; the dispatch layer cross-checks
// this at startup and refuses to boot on mismatch.
func builtinEntries() []Entry {
	return []Entry{
		// compute: virtual machine instances.
		{
			Key:                 Key{Domain: "compute", Action: "list"},
			Classification:      Free(),
			RequiredPermissions: []string{"compute:DescribeInstances"},
			Probe: SafeRead(func(ctx context.Context, api ProbeAPI, region string) error {
				return api.ListInstances(ctx, region)
			}),
		},
		{
			Key:                 Key{Domain: "compute", Action: "get"},
			Classification:      Free(),
			RequiredPermissions: []string{"compute:DescribeInstances"},
			Probe:               NoProbe(),
		},
		{
			Key:                 Key{Domain: "compute", Action: "start"},
			Classification:      Free(),
			RequiredPermissions: []string{"compute:StartInstances"},
			Probe:               Unsafe("starting an instance begins billable compute time"),
		},
		{
			Key:                 Key{Domain: "compute", Action: "stop"},
			Classification:      Free(),
			RequiredPermissions: []string{"compute:StopInstances"},
			Probe:               Unsafe("stopping an instance interrupts running workloads"),
			Destructive:         true,
		},
		{
			Key:                 Key{Domain: "compute", Action: "reboot"},
			Classification:      Free(),
			RequiredPermissions: []string{"compute:RebootInstances"},
			Probe:               Unsafe("rebooting an instance interrupts running workloads"),
			Destructive:         true,
		},
		{
			Key:                 Key{Domain: "compute", Action: "terminate"},
			Classification:      Free(),
			RequiredPermissions: []string{"compute:TerminateInstances"},
			Probe:               Unsafe("terminating an instance destroys it permanently"),
			Destructive:         true,
		},

		// storage: object storage buckets.
		{
			Key:                 Key{Domain: "storage", Action: "list-buckets"},
			Classification:      Free(),
			RequiredPermissions: []string{"storage:ListBuckets"},
			Probe: SafeRead(func(ctx context.Context, api ProbeAPI, region string) error {
				return api.ListBuckets(ctx, region)
			}),
		},
		{
			Key:                 Key{Domain: "storage", Action: "get-bucket"},
			Classification:      Free(),
			RequiredPermissions: []string{"storage:GetBucketLocation", "storage:ListBuckets"},
			Probe:               NoProbe(),
		},
		{
			Key:                 Key{Domain: "storage", Action: "list-objects"},
			Classification:      Free(),
			RequiredPermissions: []string{"storage:ListObjects"},
			Probe:               NoProbe(),
		},
		{
			Key:                 Key{Domain: "storage", Action: "delete-bucket"},
			Classification:      Free(),
			RequiredPermissions: []string{"storage:DeleteBucket"},
			Probe:               Unsafe("deleting a bucket destroys stored objects"),
			Destructive:         true,
		},

		// functions: serverless functions.
		{
			Key:                 Key{Domain: "functions", Action: "list"},
			Classification:      Free(),
			RequiredPermissions: []string{"functions:ListFunctions"},
			Probe: SafeRead(func(ctx context.Context, api ProbeAPI, region string) error {
				return api.ListFunctions(ctx, region)
			}),
		},
		{
			Key:                 Key{Domain: "functions", Action: "get"},
			Classification:      Free(),
			RequiredPermissions: []string{"functions:GetFunction"},
			Probe:               NoProbe(),
		},
		{
			Key:                 Key{Domain: "functions", Action: "invoke"},
			Classification:      Paid(CategoryFunctionInvocation),
			RequiredPermissions: []string{"functions:InvokeFunction"},
			Probe:               Unsafe("invoking a function runs user code and incurs charges"),
		},

		// database: managed database instances.
		{
			Key:                 Key{Domain: "database", Action: "list"},
			Classification:      Free(),
			RequiredPermissions: []string{"database:DescribeInstances"},
			Probe: SafeRead(func(ctx context.Context, api ProbeAPI, region string) error {
				return api.ListDatabases(ctx, region)
			}),
		},
		{
			Key:                 Key{Domain: "database", Action: "get"},
			Classification:      Free(),
			RequiredPermissions: []string{"database:DescribeInstances"},
			Probe:               NoProbe(),
		},
		{
			Key:                 Key{Domain: "database", Action: "snapshot"},
			Classification:      Free(),
			RequiredPermissions: []string{"database:CreateSnapshot"},
			Probe:               Unsafe("creating a snapshot allocates billable storage"),
		},

		// monitoring: alarms and metrics.
		{
			Key:                 Key{Domain: "monitoring", Action: "list-alarms"},
			Classification:      Free(),
			RequiredPermissions: []string{"monitoring:DescribeAlarms"},
			Probe: SafeRead(func(ctx context.Context, api ProbeAPI, region string) error {
				return api.ListAlarms(ctx, region)
			}),
		},
		{
			Key:                 Key{Domain: "monitoring", Action: "get-metrics"},
			Classification:      Free(),
			RequiredPermissions: []string{"monitoring:GetMetricData"},
			Probe:               NoProbe(),
		},

		// notify: notification topics.
		{
			Key:                 Key{Domain: "notify", Action: "list-topics"},
			Classification:      Free(),
			RequiredPermissions: []string{"notify:ListTopics"},
			Probe: SafeRead(func(ctx context.Context, api ProbeAPI, region string) error {
				return api.ListTopics(ctx, region)
			}),
		},
		{
			Key:                 Key{Domain: "notify", Action: "publish"},
			Classification:      Paid(CategoryNotificationPublish),
			RequiredPermissions: []string{"notify:Publish"},
			Probe:               Unsafe("publishing delivers billable notifications to subscribers"),
		},

		// identity: provider principals.
		{
			Key:                 Key{Domain: "identity", Action: "list-users"},
			Classification:      Free(),
			RequiredPermissions: []string{"identity:ListUsers"},
			Probe: SafeRead(func(ctx context.Context, api ProbeAPI, region string) error {
				return api.ListUsers(ctx, region)
			}),
		},
		{
			Key:                 Key{Domain: "identity", Action: "whoami"},
			Classification:      Free(),
			RequiredPermissions: []string{"identity:GetCallerIdentity"},
			Probe: SafeRead(func(ctx context.Context, api ProbeAPI, region string) error {
				_, err := api.ResolveIdentity(ctx, region)
				return err
			}),
		},

		// cost: billed cost-and-usage reporting.
		{
			Key:                 Key{Domain: "cost", Action: "by-period"},
			Classification:      Paid(CategoryCostReporting),
			RequiredPermissions: []string{"cost:GetCostAndUsage"},
			Probe:               Unsafe("every cost query is billed by the provider"),
		},
		{
			Key:                 Key{Domain: "cost", Action: "by-service"},
			Classification:      Paid(CategoryCostReporting),
			RequiredPermissions: []string{"cost:GetCostAndUsage"},
			Probe:               Unsafe("every cost query is billed by the provider"),
		},

		// assistant: AI assistant.
		{
			Key:                 Key{Domain: "assistant", Action: "ask"},
			Classification:      Paid(CategoryAssistant),
			RequiredPermissions: []string{"assistant:InvokeModel"},
			Probe:               Unsafe("model invocations are billed per token"),
		},

		// consent: the consent sub-protocol, served locally.
		{
			Key:            Key{Domain: "consent", Action: "grant"},
			Classification: Free(),
			Probe:          NoProbe(),
		},
		{
			Key:            Key{Domain: "consent", Action: "revoke"},
			Classification: Free(),
			Probe:          NoProbe(),
		},
		{
			Key:            Key{Domain: "consent", Action: "revoke-all"},
			Classification: Free(),
			Probe:          NoProbe(),
		},
		{
			Key:            Key{Domain: "consent", Action: "status"},
			Classification: Free(),
			Probe:          NoProbe(),
		},
		{
			Key:            Key{Domain: "consent", Action: "list"},
			Classification: Free(),
			Probe:          NoProbe(),
		},
	}
}
