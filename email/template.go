package email

import "github.com/petitions-gov-je/signatures-backend/models"

var subjects = map[models.MailKind]string{
	models.MailConfirmation:        "Please confirm your email address",
	models.MailDuplicate:           "Duplicate signature of petition",
	models.MailSponsorConfirmation: "Please confirm your support for this petition",
}

// Templates are filled with fmt indexed verbs:
//
//	%[1]s signer name
//	%[2]s petition action
//	%[3]s website
//	%[4]d signature id
//	%[5]s perishable token
//	%[6]s unsubscribe token
//	%[7]d petition id
var templates = map[models.MailKind]string{
	models.MailConfirmation: `Dear %[1]s,

Please confirm your signature of the petition "%[2]s" by clicking the link below:

 %[3]s/signatures/%[4]d/verify?token=%[5]s

Your signature will only be counted once you have confirmed your email address. If you didn't sign this petition, you can ignore this email.

To stop receiving updates about this petition, visit %[3]s/signatures/%[4]d/unsubscribe?token=%[6]s
`,
	models.MailSponsorConfirmation: `Dear %[1]s,

You have been asked to support the petition "%[2]s". Please confirm your support by clicking the link below:

 %[3]s/signatures/%[4]d/verify?token=%[5]s

The petition needs the support of several people before it can be checked and published. If you didn't mean to support this petition, you can ignore this email.
`,
	models.MailDuplicate: `Dear %[1]s,

Someone tried to sign the petition "%[2]s" using your email address, but you have already signed it. Each person can only sign a petition once, so we haven't counted this signature.

You can see the petition at %[3]s/petitions/%[7]d

If you didn't try to sign this petition again, you can ignore this email.
`,
}
