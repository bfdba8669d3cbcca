package lbaas

// Annotation keys persisted on Kubernetes resources (§6).
const (
	AnnotationServiceSpec = "openstack.org/kuryr-service-spec"
	AnnotationLBaaSState  = "openstack.org/kuryr-lbaas-state"
)
