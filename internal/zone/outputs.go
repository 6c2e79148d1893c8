package zone

// Stack outputs published by the zone programs and read back by peer zones
// and the deployment controller.
const (
	OutputTransitGatewayID          = "transitGatewayId"
	OutputResolverRuleID            = "resolverRuleId"
	OutputResolverRuleAssociationID = "resolverRuleAssociationId"
	OutputSecretName                = "secretName"
	OutputSecretArn                 = "secretArn"
	OutputKMSKeyArn                 = "kmsKeyArn"
	OutputDirectoryID               = "directoryId"
	OutputDirectoryDNS              = "directoryDnsIps"
	OutputDomainName                = "domainName"
	OutputSecretReaders             = "secretReaders"
	OutputWorkerRoleArn             = "workerRoleArn"
	OutputWorkerInstanceID          = "workerInstanceId"
	OutputWorkerPublicDNS           = "workerPublicDns"
	OutputRouteDestinations         = "routeDestinations"
)
