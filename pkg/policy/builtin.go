package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		rootProtectionPolicy(),
		readerPrincipalsPolicy(),
		protectedResourcesPolicy(),
	}
}

// rootProtectionPolicy refuses structural changes aimed at the root.
func rootProtectionPolicy() Policy {
	return Policy{
		Name:        "root-protection",
		Description: "Refuses add and remove on the root resource",
		Enabled:     true,
		Builtin:     true,
		Rego: `package mgmt.policies.root

import rego.v1

structural := {"add", "remove"}

deny contains violation if {
	count(input.segments) == 0
	structural[input.operation]
	violation := {"message": sprintf("operation %s is not allowed on the root resource", [input.operation])}
}`,
	}
}

// readerPrincipalsPolicy restricts the principals listed under
// data.mgmt.readers to read-only operations.
func readerPrincipalsPolicy() Policy {
	return Policy{
		Name:        "reader-principals",
		Description: "Principals listed as readers may only run read-only operations",
		Enabled:     true,
		Builtin:     true,
		Rego: `package mgmt.policies.readers

import rego.v1

deny contains violation if {
	not input.read_only
	input.principal != ""
	some reader in data.mgmt.readers
	reader == input.principal
	violation := {"message": sprintf("principal %s may only run read-only operations", [input.principal])}
}`,
	}
}

// protectedResourcesPolicy refuses removal of the addresses listed under
// data.mgmt.protected and of anything containing them.
func protectedResourcesPolicy() Policy {
	return Policy{
		Name:        "protected-resources",
		Description: "Refuses removal of protected resources and their ancestors",
		Enabled:     true,
		Builtin:     true,
		Rego: `package mgmt.policies.protected

import rego.v1

deny contains violation if {
	input.operation == "remove"
	some protected in data.mgmt.protected
	covers(input.address, protected)
	violation := {"message": sprintf("%s is protected", [protected])}
}

covers(target, protected) if target == protected

covers(target, protected) if startswith(protected, concat("", [target, "/"]))

covers("/", _) if true
`,
	}
}
